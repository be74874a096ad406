package integration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lecas/commerce/internal/database"
	"github.com/lecas/commerce/internal/models"
	"github.com/lecas/commerce/internal/store"
	"github.com/shopspring/decimal"
)

func TestCreateOrder(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	user := createTestUser(t, db)
	product1 := createTestProduct(t, db, 100000, 50)
	product2 := createTestProduct(t, db, 50000, 30)

	order, err := store.CreateOrder(ctx, db, testShipping, store.CreateOrderRequest{
		UserID: user.ID,
		Items: []store.OrderItemRequest{
			{ProductID: product1.ID, Quantity: 2},
			{ProductID: product2.ID, Quantity: 1},
		},
		ShippingInfo:  testShippingInfo(),
		PaymentMethod: models.PaymentCOD,
	})
	if err != nil {
		t.Fatalf("Create order: %v", err)
	}

	if order.ID == 0 {
		t.Error("Order ID should not be 0")
	}
	if order.Status != models.OrderStatusPending {
		t.Errorf("Expected status pending, got %s", order.Status)
	}

	// 2x100000 + 1x50000 = 250000, below the free shipping threshold
	if !order.Subtotal.Equal(decimal.NewFromInt(250000)) {
		t.Errorf("Expected subtotal 250000, got %s", order.Subtotal)
	}
	if !order.Shipping.Equal(decimal.NewFromInt(30000)) {
		t.Errorf("Expected shipping 30000, got %s", order.Shipping)
	}
	if !order.Tax.IsZero() {
		t.Errorf("Expected tax 0, got %s", order.Tax)
	}
	if !order.Total.Equal(decimal.NewFromInt(280000)) {
		t.Errorf("Expected total 280000, got %s", order.Total)
	}

	wantPrefix := time.Now().UTC().Format("20060102") + "-"
	if !strings.HasPrefix(order.OrderNumber, wantPrefix) || len(order.OrderNumber) != len(wantPrefix)+4 {
		t.Errorf("Order number %q does not match YYYYMMDD-NNNN", order.OrderNumber)
	}

	if len(order.Items) != 2 {
		t.Fatalf("Expected 2 order items, got %d", len(order.Items))
	}
	if order.Items[0].ProductName != product1.Name {
		t.Errorf("Expected snapshot name %q, got %q", product1.Name, order.Items[0].ProductName)
	}

	if len(order.Tracking) != 1 || order.Tracking[0].Description != "Order created" {
		t.Errorf("Expected one seed tracking entry, got %+v", order.Tracking)
	}
	if len(order.History) != 1 || order.History[0].ChangedBy != "customer" {
		t.Errorf("Expected one seed history entry, got %+v", order.History)
	}

	product1After, err := store.GetProduct(ctx, db, product1.ID)
	if err != nil {
		t.Fatalf("Get product 1: %v", err)
	}
	if product1After.StockQuantity != 48 {
		t.Errorf("Expected product 1 stock 48, got %d", product1After.StockQuantity)
	}

	product2After, err := store.GetProduct(ctx, db, product2.ID)
	if err != nil {
		t.Fatalf("Get product 2: %v", err)
	}
	if product2After.StockQuantity != 29 {
		t.Errorf("Expected product 2 stock 29, got %d", product2After.StockQuantity)
	}
}

func TestCreateOrderFreeShipping(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	user := createTestUser(t, db)
	product := createTestProduct(t, db, 250000, 10)

	order, err := store.CreateOrder(ctx, db, testShipping, store.CreateOrderRequest{
		UserID: user.ID,
		Items: []store.OrderItemRequest{
			{ProductID: product.ID, Quantity: 2},
		},
		ShippingInfo:  testShippingInfo(),
		PaymentMethod: models.PaymentVNPay,
	})
	if err != nil {
		t.Fatalf("Create order: %v", err)
	}

	if !order.Shipping.IsZero() {
		t.Errorf("Expected free shipping at 500000, got %s", order.Shipping)
	}
	if !order.Total.Equal(decimal.NewFromInt(500000)) {
		t.Errorf("Expected total 500000, got %s", order.Total)
	}
}

func TestCreateOrderFromCart(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	user := createTestUser(t, db)
	product1 := createTestProduct(t, db, 100000, 10)
	product2 := createTestProduct(t, db, 50000, 10)

	if _, err := store.AddCartItem(ctx, db, testShipping, user.ID, store.AddCartItemRequest{
		ProductID: product1.ID, Quantity: 2, Size: "M", Color: "black",
	}); err != nil {
		t.Fatalf("Add cart item 1: %v", err)
	}
	if _, err := store.AddCartItem(ctx, db, testShipping, user.ID, store.AddCartItemRequest{
		ProductID: product2.ID, Quantity: 1,
	}); err != nil {
		t.Fatalf("Add cart item 2: %v", err)
	}

	order, err := store.CreateOrder(ctx, db, testShipping, store.CreateOrderRequest{
		UserID:        user.ID,
		ShippingInfo:  testShippingInfo(),
		PaymentMethod: models.PaymentCOD,
	})
	if err != nil {
		t.Fatalf("Create order from cart: %v", err)
	}

	if len(order.Items) != 2 {
		t.Fatalf("Expected 2 order items, got %d", len(order.Items))
	}
	if !order.Subtotal.Equal(decimal.NewFromInt(250000)) {
		t.Errorf("Expected subtotal 250000, got %s", order.Subtotal)
	}

	// the charged lines must be gone from the cart
	cart, err := store.GetCart(ctx, db, user.ID)
	if err != nil {
		t.Fatalf("Get cart: %v", err)
	}
	if len(cart.Items) != 0 {
		t.Errorf("Expected empty cart after checkout, got %d items", len(cart.Items))
	}
	if !cart.Subtotal.IsZero() {
		t.Errorf("Expected cart subtotal 0 after checkout, got %s", cart.Subtotal)
	}
}

func TestCreateOrderValidation(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	user := createTestUser(t, db)
	product := createTestProduct(t, db, 100000, 10)

	item := store.OrderItemRequest{ProductID: product.ID, Quantity: 1}

	tests := []struct {
		name    string
		req     store.CreateOrderRequest
		wantErr error
	}{
		{
			name: "unknown payment method",
			req: store.CreateOrderRequest{
				UserID: user.ID, Items: []store.OrderItemRequest{item},
				ShippingInfo: testShippingInfo(), PaymentMethod: "paypal",
			},
			wantErr: database.ErrInvalidPaymentMethod,
		},
		{
			name: "missing shipping address",
			req: store.CreateOrderRequest{
				UserID: user.ID, Items: []store.OrderItemRequest{item},
				ShippingInfo:  models.ShippingInfo{Name: "A", Phone: "1"},
				PaymentMethod: models.PaymentCOD,
			},
			wantErr: database.ErrInvalidShippingInfo,
		},
		{
			name: "empty order with empty cart",
			req: store.CreateOrderRequest{
				UserID:       user.ID,
				ShippingInfo: testShippingInfo(), PaymentMethod: models.PaymentCOD,
			},
			wantErr: database.ErrEmptyOrder,
		},
		{
			name: "unknown user",
			req: store.CreateOrderRequest{
				UserID: 999999, Items: []store.OrderItemRequest{item},
				ShippingInfo: testShippingInfo(), PaymentMethod: models.PaymentCOD,
			},
			wantErr: database.ErrUserNotFound,
		},
		{
			name: "unknown product",
			req: store.CreateOrderRequest{
				UserID: user.ID, Items: []store.OrderItemRequest{{ProductID: 999999, Quantity: 1}},
				ShippingInfo: testShippingInfo(), PaymentMethod: models.PaymentCOD,
			},
			wantErr: database.ErrProductNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.CreateOrder(ctx, db, testShipping, tt.req)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestCreateOrderInsufficientStockAllOrNothing(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	user := createTestUser(t, db)
	plenty := createTestProduct(t, db, 100000, 50)
	scarce := createTestProduct(t, db, 100000, 3)

	_, err := store.CreateOrder(ctx, db, testShipping, store.CreateOrderRequest{
		UserID: user.ID,
		Items: []store.OrderItemRequest{
			{ProductID: plenty.ID, Quantity: 5},
			{ProductID: scarce.ID, Quantity: 10},
		},
		ShippingInfo:  testShippingInfo(),
		PaymentMethod: models.PaymentCOD,
	})
	if !errors.Is(err, database.ErrInsufficientStock) {
		t.Fatalf("Expected insufficient stock error, got: %v", err)
	}

	// the satisfiable line must not have been charged either
	plentyAfter, err := store.GetProduct(ctx, db, plenty.ID)
	if err != nil {
		t.Fatalf("Get product: %v", err)
	}
	if plentyAfter.StockQuantity != 50 {
		t.Errorf("Stock should remain 50, got %d", plentyAfter.StockQuantity)
	}

	orders, err := store.ListUserOrders(ctx, db, user.ID, store.OrderFilter{})
	if err != nil {
		t.Fatalf("List orders: %v", err)
	}
	if len(orders) != 0 {
		t.Errorf("Expected no orders, got %d", len(orders))
	}
}

func TestConcurrentLastUnit(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	product := createTestProduct(t, db, 100000, 1)

	concurrency := 8
	users := make([]int64, concurrency)
	for i := range users {
		users[i] = createTestUser(t, db).ID
	}

	var wg sync.WaitGroup
	results := make(chan error, concurrency)

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()

			_, err := store.CreateOrder(ctx, db, testShipping, store.CreateOrderRequest{
				UserID: userID,
				Items: []store.OrderItemRequest{
					{ProductID: product.ID, Quantity: 1},
				},
				ShippingInfo:  testShippingInfo(),
				PaymentMethod: models.PaymentCOD,
			})
			results <- err
		}(users[i])
	}

	wg.Wait()
	close(results)

	successCount := 0
	for err := range results {
		switch {
		case err == nil:
			successCount++
		case errors.Is(err, database.ErrInsufficientStock):
		default:
			// serialization retries can run out under this much contention
			t.Logf("order attempt failed: %v", err)
		}
	}

	if successCount != 1 {
		t.Errorf("Expected exactly 1 order for the last unit, got %d", successCount)
	}

	productAfter, err := store.GetProduct(ctx, db, product.ID)
	if err != nil {
		t.Fatalf("Get product: %v", err)
	}
	if productAfter.StockQuantity != 0 {
		t.Errorf("Expected final stock 0, got %d", productAfter.StockQuantity)
	}
	if productAfter.InStock {
		t.Error("Product should be flagged out of stock")
	}
}

func TestOrderNumberSequence(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	user := createTestUser(t, db)
	product := createTestProduct(t, db, 100000, 100)

	seen := make(map[string]bool)
	for i := 1; i <= 3; i++ {
		order, err := store.CreateOrder(ctx, db, testShipping, store.CreateOrderRequest{
			UserID: user.ID,
			Items: []store.OrderItemRequest{
				{ProductID: product.ID, Quantity: 1},
			},
			ShippingInfo:  testShippingInfo(),
			PaymentMethod: models.PaymentCOD,
		})
		if err != nil {
			t.Fatalf("Create order %d: %v", i, err)
		}

		want := fmt.Sprintf("%s-%04d", time.Now().UTC().Format("20060102"), i)
		if order.OrderNumber != want {
			t.Errorf("Expected order number %s, got %s", want, order.OrderNumber)
		}
		if seen[order.OrderNumber] {
			t.Errorf("Duplicate order number %s", order.OrderNumber)
		}
		seen[order.OrderNumber] = true
	}
}

func TestCancelOrder(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	user := createTestUser(t, db)
	product := createTestProduct(t, db, 100000, 10)

	newOrder := func() *models.Order {
		order, err := store.CreateOrder(ctx, db, testShipping, store.CreateOrderRequest{
			UserID: user.ID,
			Items: []store.OrderItemRequest{
				{ProductID: product.ID, Quantity: 1},
			},
			ShippingInfo:  testShippingInfo(),
			PaymentMethod: models.PaymentCOD,
		})
		if err != nil {
			t.Fatalf("Create order: %v", err)
		}
		return order
	}

	t.Run("pending order cancels", func(t *testing.T) {
		order := newOrder()

		cancelled, err := store.CancelOrder(ctx, db, order.ID, user.ID, "changed my mind")
		if err != nil {
			t.Fatalf("Cancel order: %v", err)
		}

		if cancelled.Status != models.OrderStatusCancelled {
			t.Errorf("Expected status cancelled, got %s", cancelled.Status)
		}
		if cancelled.CancelReason != "changed my mind" {
			t.Errorf("Expected cancel reason recorded, got %q", cancelled.CancelReason)
		}
		if len(cancelled.Tracking) != 2 {
			t.Errorf("Expected 2 tracking entries, got %d", len(cancelled.Tracking))
		}
	})

	t.Run("stock is not restored", func(t *testing.T) {
		before, _ := store.GetProduct(ctx, db, product.ID)
		order := newOrder()

		if _, err := store.CancelOrder(ctx, db, order.ID, user.ID, ""); err != nil {
			t.Fatalf("Cancel order: %v", err)
		}

		after, err := store.GetProduct(ctx, db, product.ID)
		if err != nil {
			t.Fatalf("Get product: %v", err)
		}
		if after.StockQuantity != before.StockQuantity-1 {
			t.Errorf("Cancellation must not restock: before %d, after %d", before.StockQuantity, after.StockQuantity)
		}
	})

	t.Run("shipped order cannot cancel", func(t *testing.T) {
		order := newOrder()

		for _, s := range []models.OrderStatus{
			models.OrderStatusConfirmed,
			models.OrderStatusProcessing,
			models.OrderStatusShipped,
		} {
			if _, err := store.UpdateOrderStatus(ctx, db, order.ID, s, "", "admin", false); err != nil {
				t.Fatalf("Advance to %s: %v", s, err)
			}
		}

		_, err := store.CancelOrder(ctx, db, order.ID, user.ID, "too late")
		if !errors.Is(err, database.ErrOrderNotCancellable) {
			t.Errorf("Expected not cancellable, got %v", err)
		}
	})

	t.Run("other user cannot cancel", func(t *testing.T) {
		order := newOrder()
		stranger := createTestUser(t, db)

		_, err := store.CancelOrder(ctx, db, order.ID, stranger.ID, "")
		if !errors.Is(err, database.ErrAccessDenied) {
			t.Errorf("Expected access denied, got %v", err)
		}
	})
}

func TestUpdateOrderStatus(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	user := createTestUser(t, db)
	product := createTestProduct(t, db, 100000, 10)

	order, err := store.CreateOrder(ctx, db, testShipping, store.CreateOrderRequest{
		UserID: user.ID,
		Items: []store.OrderItemRequest{
			{ProductID: product.ID, Quantity: 1},
		},
		ShippingInfo:  testShippingInfo(),
		PaymentMethod: models.PaymentCOD,
	})
	if err != nil {
		t.Fatalf("Create order: %v", err)
	}

	// skipping straight to shipped is not in the lifecycle
	_, err = store.UpdateOrderStatus(ctx, db, order.ID, models.OrderStatusShipped, "", "admin", false)
	if !errors.Is(err, database.ErrIllegalTransition) {
		t.Errorf("Expected illegal transition, got %v", err)
	}

	for _, s := range []models.OrderStatus{
		models.OrderStatusConfirmed,
		models.OrderStatusProcessing,
		models.OrderStatusShipped,
		models.OrderStatusDelivered,
	} {
		updated, err := store.UpdateOrderStatus(ctx, db, order.ID, s, "", "admin", false)
		if err != nil {
			t.Fatalf("Advance to %s: %v", s, err)
		}
		if updated.Status != s {
			t.Errorf("Expected status %s, got %s", s, updated.Status)
		}
	}

	final, err := store.GetOrder(ctx, db, order.ID)
	if err != nil {
		t.Fatalf("Get order: %v", err)
	}
	// seed entry plus four transitions
	if len(final.History) != 5 {
		t.Errorf("Expected 5 history entries, got %d", len(final.History))
	}
	if len(final.Tracking) != 5 {
		t.Errorf("Expected 5 tracking entries, got %d", len(final.Tracking))
	}

	// delivered -> returned is legal, returned is terminal
	if _, err := store.UpdateOrderStatus(ctx, db, order.ID, models.OrderStatusReturned, "damaged", "admin", false); err != nil {
		t.Fatalf("Return order: %v", err)
	}
	_, err = store.UpdateOrderStatus(ctx, db, order.ID, models.OrderStatusPending, "", "admin", false)
	if !errors.Is(err, database.ErrIllegalTransition) {
		t.Errorf("Expected illegal transition out of terminal state, got %v", err)
	}

	// force overrides the table
	forced, err := store.UpdateOrderStatus(ctx, db, order.ID, models.OrderStatusDelivered, "support override", "admin", true)
	if err != nil {
		t.Fatalf("Forced transition: %v", err)
	}
	if forced.Status != models.OrderStatusDelivered {
		t.Errorf("Expected forced status delivered, got %s", forced.Status)
	}

	_, err = store.UpdateOrderStatus(ctx, db, order.ID, "refunded", "", "admin", true)
	if !errors.Is(err, database.ErrIllegalTransition) {
		t.Errorf("Force must still reject unknown statuses, got %v", err)
	}
}

func TestUpdateOrderInfo(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	user := createTestUser(t, db)
	product := createTestProduct(t, db, 100000, 10)

	order, err := store.CreateOrder(ctx, db, testShipping, store.CreateOrderRequest{
		UserID: user.ID,
		Items: []store.OrderItemRequest{
			{ProductID: product.ID, Quantity: 1},
		},
		ShippingInfo:  testShippingInfo(),
		PaymentMethod: models.PaymentCOD,
	})
	if err != nil {
		t.Fatalf("Create order: %v", err)
	}

	newInfo := testShippingInfo()
	note := "leave at the door"

	updated, err := store.UpdateOrderInfo(ctx, db, order.ID, user.ID, store.UpdateOrderInfoRequest{
		ShippingInfo: &newInfo,
		Note:         &note,
	})
	if err != nil {
		t.Fatalf("Update order info: %v", err)
	}

	if updated.ShippingInfo.Address != newInfo.Address {
		t.Errorf("Expected address %q, got %q", newInfo.Address, updated.ShippingInfo.Address)
	}
	if updated.Note != note {
		t.Errorf("Expected note %q, got %q", note, updated.Note)
	}

	stranger := createTestUser(t, db)
	_, err = store.UpdateOrderInfo(ctx, db, order.ID, stranger.ID, store.UpdateOrderInfoRequest{Note: &note})
	if !errors.Is(err, database.ErrAccessDenied) {
		t.Errorf("Expected access denied, got %v", err)
	}

	if _, err := store.UpdateOrderStatus(ctx, db, order.ID, models.OrderStatusConfirmed, "", "admin", false); err != nil {
		t.Fatalf("Confirm order: %v", err)
	}

	_, err = store.UpdateOrderInfo(ctx, db, order.ID, user.ID, store.UpdateOrderInfoRequest{Note: &note})
	if !errors.Is(err, database.ErrOrderNotEditable) {
		t.Errorf("Expected not editable after confirmation, got %v", err)
	}
}

func TestCreateOrderAppliesPromotion(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	user := createTestUser(t, db)
	discounted := createTestProduct(t, db, 200000, 10)
	regular := createTestProduct(t, db, 100000, 10)

	now := time.Now().UTC()
	_, err := store.CreatePromotion(ctx, db, models.Promotion{
		Name:          "spring sale",
		DiscountType:  models.DiscountPercent,
		DiscountValue: decimal.NewFromInt(10),
		StartsAt:      now.Add(-time.Hour),
		EndsAt:        now.Add(time.Hour),
		IsActive:      true,
		ProductIDs:    []int64{discounted.ID},
	})
	if err != nil {
		t.Fatalf("Create promotion: %v", err)
	}

	order, err := store.CreateOrder(ctx, db, testShipping, store.CreateOrderRequest{
		UserID: user.ID,
		Items: []store.OrderItemRequest{
			{ProductID: discounted.ID, Quantity: 1},
			{ProductID: regular.ID, Quantity: 1},
		},
		ShippingInfo:  testShippingInfo(),
		PaymentMethod: models.PaymentCOD,
	})
	if err != nil {
		t.Fatalf("Create order: %v", err)
	}

	prices := map[int64]decimal.Decimal{}
	for _, item := range order.Items {
		prices[item.ProductID] = item.Price
	}

	if !prices[discounted.ID].Equal(decimal.NewFromInt(180000)) {
		t.Errorf("Expected discounted price 180000, got %s", prices[discounted.ID])
	}
	if !prices[regular.ID].Equal(decimal.NewFromInt(100000)) {
		t.Errorf("Expected regular price 100000, got %s", prices[regular.ID])
	}
	if !order.Subtotal.Equal(decimal.NewFromInt(280000)) {
		t.Errorf("Expected subtotal 280000, got %s", order.Subtotal)
	}
}

func TestOrderSnapshotSurvivesCatalogEdits(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	user := createTestUser(t, db)
	product := createTestProduct(t, db, 100000, 10)

	order, err := store.CreateOrder(ctx, db, testShipping, store.CreateOrderRequest{
		UserID: user.ID,
		Items: []store.OrderItemRequest{
			{ProductID: product.ID, Quantity: 1},
		},
		ShippingInfo:  testShippingInfo(),
		PaymentMethod: models.PaymentCOD,
	})
	if err != nil {
		t.Fatalf("Create order: %v", err)
	}

	edited := *product
	edited.Name = "renamed product"
	edited.Price = decimal.NewFromInt(999999)
	if _, err := store.UpdateProduct(ctx, db, &edited); err != nil {
		t.Fatalf("Update product: %v", err)
	}

	reloaded, err := store.GetOrder(ctx, db, order.ID)
	if err != nil {
		t.Fatalf("Get order: %v", err)
	}

	if reloaded.Items[0].ProductName != product.Name {
		t.Errorf("Snapshot name changed: got %q", reloaded.Items[0].ProductName)
	}
	if !reloaded.Items[0].Price.Equal(decimal.NewFromInt(100000)) {
		t.Errorf("Snapshot price changed: got %s", reloaded.Items[0].Price)
	}
	if !reloaded.Total.Equal(order.Total) {
		t.Errorf("Order total changed: got %s", reloaded.Total)
	}
}

func TestListUserOrders(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	user := createTestUser(t, db)
	product := createTestProduct(t, db, 100000, 100)

	var first *models.Order
	for i := 0; i < 3; i++ {
		order, err := store.CreateOrder(ctx, db, testShipping, store.CreateOrderRequest{
			UserID: user.ID,
			Items: []store.OrderItemRequest{
				{ProductID: product.ID, Quantity: 1},
			},
			ShippingInfo:  testShippingInfo(),
			PaymentMethod: models.PaymentCOD,
		})
		if err != nil {
			t.Fatalf("Create order %d: %v", i, err)
		}
		if first == nil {
			first = order
		}
	}

	if _, err := store.CancelOrder(ctx, db, first.ID, user.ID, ""); err != nil {
		t.Fatalf("Cancel order: %v", err)
	}

	all, err := store.ListUserOrders(ctx, db, user.ID, store.OrderFilter{})
	if err != nil {
		t.Fatalf("List orders: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("Expected 3 orders, got %d", len(all))
	}

	cancelled := models.OrderStatusCancelled
	filtered, err := store.ListUserOrders(ctx, db, user.ID, store.OrderFilter{Status: &cancelled})
	if err != nil {
		t.Fatalf("List cancelled orders: %v", err)
	}
	if len(filtered) != 1 || filtered[0].ID != first.ID {
		t.Errorf("Expected only the cancelled order, got %+v", filtered)
	}
}

func TestListOrdersCursor(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	user := createTestUser(t, db)
	product := createTestProduct(t, db, 100000, 100)

	for i := 0; i < 15; i++ {
		_, err := store.CreateOrder(ctx, db, testShipping, store.CreateOrderRequest{
			UserID: user.ID,
			Items: []store.OrderItemRequest{
				{ProductID: product.ID, Quantity: 1},
			},
			ShippingInfo:  testShippingInfo(),
			PaymentMethod: models.PaymentCOD,
		})
		if err != nil {
			t.Fatalf("Create order %d: %v", i, err)
		}
	}

	page1, err := store.ListOrdersCursor(ctx, db, user.ID, "", 10)
	if err != nil {
		t.Fatalf("List orders page 1: %v", err)
	}
	if !page1.HasMore {
		t.Error("Page 1 should have more results")
	}
	if page1.NextCursor == "" {
		t.Error("Page 1 should have a next cursor")
	}

	page2, err := store.ListOrdersCursor(ctx, db, user.ID, page1.NextCursor, 10)
	if err != nil {
		t.Fatalf("List orders page 2: %v", err)
	}
	if page2.HasMore {
		t.Error("Page 2 should not have more results")
	}
}
