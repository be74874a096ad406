package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lecas/commerce/internal/config"
	"github.com/lecas/commerce/internal/database"
	"github.com/lecas/commerce/internal/email"
	"github.com/lecas/commerce/internal/models"
	"github.com/lecas/commerce/internal/store"
	"github.com/shopspring/decimal"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Load config: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		log.Fatalf("Connect to database: %v", err)
	}
	defer db.Close()

	logger.Info("connected to database")

	notifier := email.New(cfg.SMTP, logger)

	app := &application{
		cfg:      cfg,
		db:       db,
		notifier: notifier,
		logger:   logger,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/users", app.handleUsers)
	mux.HandleFunc("/users/", app.handleUserByID)
	mux.HandleFunc("/products", app.handleProducts)
	mux.HandleFunc("/products/", app.handleProductByID)
	mux.HandleFunc("/promotions", app.handlePromotions)
	mux.HandleFunc("/cart", app.handleCart)
	mux.HandleFunc("/cart/summary", app.handleCartSummary)
	mux.HandleFunc("/cart/clear", app.handleCartClear)
	mux.HandleFunc("/cart/items", app.handleCartItems)
	mux.HandleFunc("/cart/items/", app.handleCartItemByID)
	mux.HandleFunc("/orders", app.handleOrders)
	mux.HandleFunc("/orders/", app.handleOrderByID)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	logger.Info("server starting", slog.String("port", cfg.Server.Port))
	if err := server.ListenAndServe(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

type application struct {
	cfg      *config.Config
	db       *sql.DB
	notifier email.Notifier
	logger   *slog.Logger
}

// userID stands in for the authentication layer, which is out of scope here.
func userID(r *http.Request) (int64, bool) {
	raw := r.URL.Query().Get("user_id")
	if raw == "" {
		raw = r.Header.Get("X-User-ID")
	}

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func (app *application) handleUsers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	switch r.Method {
	case http.MethodPost:
		var req struct {
			Email string `json:"email"`
			Name  string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		user, err := store.CreateUser(ctx, app.db, req.Email, req.Name)
		if err != nil {
			app.respondStoreError(w, err)
			return
		}

		respondJSON(w, http.StatusCreated, user)

	case http.MethodGet:
		page, pageSize := pageParams(r)

		result, err := store.ListUsers(ctx, app.db, page, pageSize)
		if err != nil {
			app.respondStoreError(w, err)
			return
		}

		respondJSON(w, http.StatusOK, result)

	default:
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (app *application) handleUserByID(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := strconv.ParseInt(strings.TrimPrefix(r.URL.Path, "/users/"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	user, err := store.GetUser(ctx, app.db, id)
	if err != nil {
		app.respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, user)
}

func (app *application) handleProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	switch r.Method {
	case http.MethodPost:
		var req struct {
			SKU           string  `json:"sku"`
			Name          string  `json:"name"`
			Description   string  `json:"description"`
			Price         string  `json:"price"`
			OriginalPrice string  `json:"original_price"`
			ImageURL      string  `json:"image_url"`
			CategoryID    *int64  `json:"category_id"`
			Stock         int     `json:"stock"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		price, err := decimal.NewFromString(req.Price)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid price")
			return
		}

		originalPrice := price
		if req.OriginalPrice != "" {
			originalPrice, err = decimal.NewFromString(req.OriginalPrice)
			if err != nil {
				respondError(w, http.StatusBadRequest, "Invalid original price")
				return
			}
		}

		product, err := store.CreateProduct(ctx, app.db, store.CreateProductRequest{
			SKU:           req.SKU,
			Name:          req.Name,
			Description:   req.Description,
			Price:         price,
			OriginalPrice: originalPrice,
			ImageURL:      req.ImageURL,
			CategoryID:    req.CategoryID,
			Stock:         req.Stock,
		})
		if err != nil {
			app.respondStoreError(w, err)
			return
		}

		respondJSON(w, http.StatusCreated, product)

	case http.MethodGet:
		page, pageSize := pageParams(r)

		result, err := store.ListProducts(ctx, app.db, page, pageSize)
		if err != nil {
			app.respondStoreError(w, err)
			return
		}

		respondJSON(w, http.StatusOK, result)

	default:
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (app *application) handleProductByID(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := strconv.ParseInt(strings.TrimPrefix(r.URL.Path, "/products/"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid product ID")
		return
	}

	product, err := store.GetProduct(ctx, app.db, id)
	if err != nil {
		app.respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, product)
}

func (app *application) handlePromotions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	switch r.Method {
	case http.MethodPost:
		var req struct {
			Name          string  `json:"name"`
			Description   string  `json:"description"`
			DiscountType  string  `json:"discount_type"`
			DiscountValue string  `json:"discount_value"`
			StartsAt      string  `json:"starts_at"`
			EndsAt        string  `json:"ends_at"`
			ProductIDs    []int64 `json:"product_ids"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		promo, err := parsePromotion(req.Name, req.Description, req.DiscountType, req.DiscountValue, req.StartsAt, req.EndsAt, req.ProductIDs)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}

		created, err := store.CreatePromotion(ctx, app.db, *promo)
		if err != nil {
			app.respondStoreError(w, err)
			return
		}

		respondJSON(w, http.StatusCreated, created)

	case http.MethodGet:
		promos, err := store.GetActivePromotions(ctx, app.db, time.Now().UTC())
		if err != nil {
			app.respondStoreError(w, err)
			return
		}

		respondJSON(w, http.StatusOK, promos)

	default:
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (app *application) handleCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	uid, ok := userID(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Missing user")
		return
	}

	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	cart, err := store.GetCart(ctx, app.db, uid)
	if err != nil {
		app.respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, cart)
}

func (app *application) handleCartSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	uid, ok := userID(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Missing user")
		return
	}

	summary, err := store.GetCartSummary(ctx, app.db, uid)
	if err != nil {
		app.respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, summary)
}

func (app *application) handleCartClear(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	uid, ok := userID(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Missing user")
		return
	}

	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if err := store.ClearCart(ctx, app.db, app.cfg.Shipping, uid); err != nil {
		app.respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]bool{"cleared": true})
}

func (app *application) handleCartItems(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	uid, ok := userID(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Missing user")
		return
	}

	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req struct {
		ProductID int64  `json:"product_id"`
		Quantity  int    `json:"quantity"`
		Size      string `json:"size"`
		Color     string `json:"color"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	cart, err := store.AddCartItem(ctx, app.db, app.cfg.Shipping, uid, store.AddCartItemRequest{
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
		Size:      req.Size,
		Color:     req.Color,
	})
	if err != nil {
		app.respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, cart)
}

func (app *application) handleCartItemByID(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	uid, ok := userID(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Missing user")
		return
	}

	itemID, err := uuid.Parse(strings.TrimPrefix(r.URL.Path, "/cart/items/"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid cart item ID")
		return
	}

	switch r.Method {
	case http.MethodPut:
		var req struct {
			Quantity *int    `json:"quantity"`
			Size     *string `json:"size"`
			Color    *string `json:"color"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		cart, err := store.UpdateCartItem(ctx, app.db, app.cfg.Shipping, uid, itemID, store.UpdateCartItemRequest{
			Quantity: req.Quantity,
			Size:     req.Size,
			Color:    req.Color,
		})
		if err != nil {
			app.respondStoreError(w, err)
			return
		}

		respondJSON(w, http.StatusOK, cart)

	case http.MethodDelete:
		cart, err := store.RemoveCartItem(ctx, app.db, app.cfg.Shipping, uid, itemID)
		if err != nil {
			app.respondStoreError(w, err)
			return
		}

		respondJSON(w, http.StatusOK, cart)

	default:
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (app *application) handleOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	uid, ok := userID(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Missing user")
		return
	}

	switch r.Method {
	case http.MethodPost:
		var req struct {
			Items []struct {
				ProductID int64  `json:"product_id"`
				Quantity  int    `json:"quantity"`
				Size      string `json:"size"`
				Color     string `json:"color"`
			} `json:"items"`
			ShippingInfo  models.ShippingInfo `json:"shipping_info"`
			PaymentMethod string              `json:"payment_method"`
			Note          string              `json:"note"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		var items []store.OrderItemRequest
		for _, item := range req.Items {
			items = append(items, store.OrderItemRequest{
				ProductID: item.ProductID,
				Quantity:  item.Quantity,
				Size:      item.Size,
				Color:     item.Color,
			})
		}

		order, err := store.CreateOrder(ctx, app.db, app.cfg.Shipping, store.CreateOrderRequest{
			UserID:        uid,
			Items:         items,
			ShippingInfo:  req.ShippingInfo,
			PaymentMethod: models.PaymentMethod(req.PaymentMethod),
			Note:          req.Note,
		})
		if err != nil {
			app.respondStoreError(w, err)
			return
		}

		app.notifyOrderConfirmation(order)

		respondJSON(w, http.StatusCreated, order)

	case http.MethodGet:
		filter := store.OrderFilter{}
		if s := r.URL.Query().Get("status"); s != "" {
			status := models.OrderStatus(s)
			if !models.ValidOrderStatus(status) {
				respondError(w, http.StatusBadRequest, "Invalid status filter")
				return
			}
			filter.Status = &status
		}

		orders, err := store.ListUserOrders(ctx, app.db, uid, filter)
		if err != nil {
			app.respondStoreError(w, err)
			return
		}

		respondJSON(w, http.StatusOK, orders)

	default:
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (app *application) handleOrderByID(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	uid, ok := userID(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Missing user")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/orders/")
	parts := strings.SplitN(rest, "/", 2)

	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid order ID")
		return
	}

	action := ""
	if len(parts) == 2 {
		action = parts[1]
	}

	switch action {
	case "":
		order, err := store.GetOrderForUser(ctx, app.db, id, uid)
		if err != nil {
			app.respondStoreError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, order)

	case "tracking":
		tracking, err := store.GetOrderTracking(ctx, app.db, id, uid)
		if err != nil {
			app.respondStoreError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, tracking)

	case "cancel":
		if r.Method != http.MethodPost {
			respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}

		var req struct {
			Reason string `json:"reason"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		order, err := store.CancelOrder(ctx, app.db, id, uid, req.Reason)
		if err != nil {
			app.respondStoreError(w, err)
			return
		}

		app.notifyStatusUpdate(order, "Your order has been cancelled.")

		respondJSON(w, http.StatusOK, order)

	case "status":
		if r.Method != http.MethodPut {
			respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}

		var req struct {
			Status    string `json:"status"`
			Note      string `json:"note"`
			ChangedBy string `json:"changed_by"`
			Force     bool   `json:"force"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		if req.ChangedBy == "" {
			req.ChangedBy = "admin"
		}

		order, err := store.UpdateOrderStatus(ctx, app.db, id, models.OrderStatus(req.Status), req.Note, req.ChangedBy, req.Force)
		if err != nil {
			app.respondStoreError(w, err)
			return
		}

		app.notifyStatusUpdate(order, req.Note)

		respondJSON(w, http.StatusOK, order)

	case "update-info":
		if r.Method != http.MethodPut {
			respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}

		var req struct {
			ShippingInfo *models.ShippingInfo `json:"shipping_info"`
			Note         *string              `json:"note"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		order, err := store.UpdateOrderInfo(ctx, app.db, id, uid, store.UpdateOrderInfoRequest{
			ShippingInfo: req.ShippingInfo,
			Note:         req.Note,
		})
		if err != nil {
			app.respondStoreError(w, err)
			return
		}

		respondJSON(w, http.StatusOK, order)

	default:
		respondError(w, http.StatusNotFound, "Not found")
	}
}

// Notifications are fire-and-forget: a failed send only logs, it never
// affects the already-committed order.
func (app *application) notifyOrderConfirmation(order *models.Order) {
	user, err := store.GetUser(context.Background(), app.db, order.UserID)
	if err != nil {
		app.logger.Error("lookup user for notification", slog.Any("error", err))
		return
	}

	go func() {
		if err := app.notifier.SendOrderConfirmation(user.Email, order.ShippingInfo.Name, order.OrderNumber, order.Total); err != nil {
			app.logger.Error("send order confirmation",
				slog.String("order_number", order.OrderNumber),
				slog.Any("error", err))
		}
	}()
}

func (app *application) notifyStatusUpdate(order *models.Order, message string) {
	user, err := store.GetUser(context.Background(), app.db, order.UserID)
	if err != nil {
		app.logger.Error("lookup user for notification", slog.Any("error", err))
		return
	}

	go func() {
		if err := app.notifier.SendOrderStatusUpdate(user.Email, order.ShippingInfo.Name, order.OrderNumber, string(order.Status), message); err != nil {
			app.logger.Error("send status update",
				slog.String("order_number", order.OrderNumber),
				slog.Any("error", err))
		}
	}()
}

func (app *application) respondStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, database.ErrUserNotFound),
		errors.Is(err, database.ErrProductNotFound),
		errors.Is(err, database.ErrOrderNotFound),
		errors.Is(err, database.ErrCartNotFound),
		errors.Is(err, database.ErrCartItemNotFound),
		errors.Is(err, database.ErrPromotionNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, database.ErrEmptyOrder),
		errors.Is(err, database.ErrInvalidShippingInfo),
		errors.Is(err, database.ErrInvalidPaymentMethod):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, database.ErrInsufficientStock),
		errors.Is(err, database.ErrOrderNotCancellable),
		errors.Is(err, database.ErrOrderNotEditable),
		errors.Is(err, database.ErrIllegalTransition):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, database.ErrAccessDenied):
		respondError(w, http.StatusForbidden, err.Error())
	default:
		app.logger.Error("internal error", slog.Any("error", err))
		respondError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func parsePromotion(name, description, discountType, discountValue, startsAt, endsAt string, productIDs []int64) (*models.Promotion, error) {
	dt := models.DiscountType(discountType)
	if dt != models.DiscountPercent && dt != models.DiscountAmount {
		return nil, fmt.Errorf("invalid discount type %q", discountType)
	}

	value, err := decimal.NewFromString(discountValue)
	if err != nil {
		return nil, fmt.Errorf("invalid discount value: %w", err)
	}

	start, err := time.Parse(time.RFC3339, startsAt)
	if err != nil {
		return nil, fmt.Errorf("invalid starts_at: %w", err)
	}

	end, err := time.Parse(time.RFC3339, endsAt)
	if err != nil {
		return nil, fmt.Errorf("invalid ends_at: %w", err)
	}

	return &models.Promotion{
		Name:          name,
		Description:   description,
		DiscountType:  dt,
		DiscountValue: value,
		StartsAt:      start,
		EndsAt:        end,
		IsActive:      true,
		ProductIDs:    productIDs,
	}, nil
}

func pageParams(r *http.Request) (int, int) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("encode json response", slog.Any("error", err))
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
