package receipt

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paivamoda/backend/internal/domain"
)

var manaus = time.FixedZone("AMT", -4*60*60)

func TestSaleReceiptCarriesBreakdown(t *testing.T) {
	sale := domain.Sale{
		Sequence:     42,
		Timestamp:    time.Date(2026, time.March, 10, 18, 30, 0, 0, time.UTC),
		CustomerName: "Maria Aparecida",
		CPF:          "123.456.789-00",
		Items: domain.SaleItems{
			{Name: "Blusa", Price: decimal.NewFromInt(50), Quantity: 1},
			{Name: "Calça", Price: decimal.NewFromInt(100), Quantity: 1},
		},
		Subtotal:      decimal.NewFromInt(150),
		Discount:      decimal.NewFromInt(20),
		Total:         decimal.NewFromInt(130),
		PaymentMethod: domain.PaymentMoney,
		Installments:  1,
		CashReceived:  decimal.NewFromInt(150),
		Change:        decimal.NewFromInt(20),
		Status:        domain.SaleCompleted,
	}

	doc := Sale("Paiva Moda", sale, manaus)
	assert.Equal(t, "sale", doc.Kind)
	assert.Equal(t, "000042", doc.Reference)
	assert.Contains(t, doc.PreviewText, "Venda Nº: 000042")
	assert.Contains(t, doc.PreviewText, "Hora: 14:30:00")
	assert.Contains(t, doc.PreviewText, "CPF: 123.456.789-00")
	assert.Contains(t, doc.PreviewText, "R$ 130,00")
	assert.Contains(t, doc.PreviewText, "Forma: Dinheiro")

	labels := make([]string, 0, len(doc.Lines))
	for _, l := range doc.Lines {
		labels = append(labels, l.Label)
	}
	assert.Equal(t, []string{"Subtotal", "Desconto", "TOTAL", "Recebido", "Troco"}, labels)

	raw, err := base64.StdEncoding.DecodeString(doc.EscposBase64)
	require.NoError(t, err)
	assert.Equal(t, escInit, raw[:2])
	assert.Equal(t, escCut, raw[len(raw)-4:])
}

func TestSaleReceiptShowsStoreCreditComponents(t *testing.T) {
	sale := domain.Sale{
		Sequence:      7,
		Timestamp:     time.Date(2026, time.January, 31, 12, 0, 0, 0, time.UTC),
		CustomerName:  "Joana",
		Items:         domain.SaleItems{{Name: "Vestido", Price: decimal.NewFromInt(300), Quantity: 1}},
		Subtotal:      decimal.NewFromInt(300),
		Interest:      decimal.RequireFromString("77.41"),
		Total:         decimal.RequireFromString("377.41"),
		PaymentMethod: domain.PaymentStoreCredit,
		Installments:  6,
		Status:        domain.SaleCancelled,
	}

	doc := Sale("Paiva Moda", sale, manaus)
	assert.Contains(t, doc.PreviewText, "Juros parcelamento:")
	assert.Contains(t, doc.PreviewText, "R$ 377,41")
	assert.Contains(t, doc.PreviewText, "Forma: Crediário (6x)")
	assert.Contains(t, doc.PreviewText, "VENDA CANCELADA")
	assert.NotContains(t, doc.PreviewText, "Troco")
}

func TestDebtReceiptListsSurcharges(t *testing.T) {
	paidOn := domain.NewDate(2026, time.June, 11)
	paid := domain.DebtReceipt{
		Record: domain.FinancialRecord{
			ID:            "fin-1",
			Description:   "Venda #3 - Maria (Parc 1/2)",
			DueDate:       domain.NewDate(2026, time.June, 1),
			PaymentMethod: domain.PaymentPix,
			PaymentDate:   &paidOn,
		},
		Customer: &domain.Customer{Name: "Maria"},
		Due: domain.DebtDue{
			IsLate:         true,
			DaysLate:       10,
			OriginalAmount: decimal.NewFromInt(100),
			Fine:           decimal.RequireFromString("2.00"),
			Interest:       decimal.RequireFromString("0.33"),
			Total:          decimal.RequireFromString("102.33"),
		},
	}

	doc := Debt("Paiva Moda", paid, time.Date(2026, time.June, 11, 15, 0, 0, 0, time.UTC), manaus)
	assert.Equal(t, "debt", doc.Kind)
	assert.Contains(t, doc.PreviewText, "Vencimento Orig:")
	assert.Contains(t, doc.PreviewText, "01/06/2026")
	assert.Contains(t, doc.PreviewText, "Multa (2%):")
	assert.Contains(t, doc.PreviewText, "R$ 102,33")
	assert.Contains(t, doc.PreviewText, "Dias em atraso: 10")
	assert.Contains(t, doc.PreviewText, "Forma: PIX")
	assert.Equal(t, "receipt-debt-fin-1.bin", doc.FileName)
}

func TestBRLFormatting(t *testing.T) {
	cases := map[string]string{
		"0":       "R$ 0,00",
		"5.5":     "R$ 5,50",
		"1234.56": "R$ 1.234,56",
		"1000000": "R$ 1.000.000,00",
		"-20":     "- R$ 20,00",
		"999.999": "R$ 1.000,00",
	}
	for in, want := range cases {
		assert.Equal(t, want, brl(decimal.RequireFromString(in)), in)
	}
}

func TestSpreadKeepsWidth(t *testing.T) {
	line := spread("TOTAL:", "R$ 130,00")
	assert.Equal(t, width, len([]rune(line)))
	assert.True(t, strings.HasPrefix(line, "TOTAL:"))
}
