package models_test

import (
	"testing"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/lecas/commerce/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestValidPaymentMethod(t *testing.T) {
	for _, m := range []models.PaymentMethod{
		models.PaymentCOD,
		models.PaymentVNPay,
		models.PaymentMomo,
		models.PaymentZaloPay,
	} {
		assert.True(t, models.ValidPaymentMethod(m), "method %s", m)
	}

	assert.False(t, models.ValidPaymentMethod(""))
	assert.False(t, models.ValidPaymentMethod("paypal"))
	assert.False(t, models.ValidPaymentMethod("COD"))
}

func TestShippingInfoValidate(t *testing.T) {
	valid := models.ShippingInfo{
		Name:    gofakeit.Name(),
		Phone:   gofakeit.Phone(),
		Address: gofakeit.Street(),
	}
	assert.True(t, valid.Validate())

	// city, district and note are optional
	valid.City = gofakeit.City()
	valid.District = gofakeit.City()
	valid.Note = gofakeit.Sentence(5)
	assert.True(t, valid.Validate())

	for name, mutate := range map[string]func(*models.ShippingInfo){
		"missing name":    func(s *models.ShippingInfo) { s.Name = "" },
		"missing phone":   func(s *models.ShippingInfo) { s.Phone = "" },
		"missing address": func(s *models.ShippingInfo) { s.Address = "" },
	} {
		t.Run(name, func(t *testing.T) {
			s := valid
			mutate(&s)
			assert.False(t, s.Validate())
		})
	}
}
