// Package receipt turns finished sales and debt payments into printable
// breakdowns. It computes nothing: every amount comes from the ledger.
package receipt

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"paivamoda/backend/internal/domain"
)

const width = 32

var (
	escInit = []byte{0x1b, 0x40}
	escCut  = []byte{0x1d, 0x56, 0x41, 0x10}
)

type Line struct {
	Label  string          `json:"label"`
	Amount decimal.Decimal `json:"amount"`
}

type Document struct {
	Kind         string `json:"kind"`
	Reference    string `json:"reference"`
	Lines        []Line `json:"lines"`
	PreviewText  string `json:"preview_text"`
	EscposBase64 string `json:"escpos_base64"`
	FileName     string `json:"file_name"`
}

func Sale(storeName string, sale domain.Sale, loc *time.Location) Document {
	at := sale.Timestamp.In(loc)
	text := []string{
		center(storeName),
		center("Comprovante de Venda"),
		rule('='),
		spread("Data: "+at.Format("02/01/2006"), "Hora: "+at.Format("15:04:05")),
		fmt.Sprintf("Venda Nº: %06d", sale.Sequence),
		"Cliente: " + clip(sale.CustomerName, 25),
	}
	if sale.CPF != "" {
		text = append(text, "CPF: "+sale.CPF)
	}
	text = append(text, rule('-'), "ITENS")
	for _, item := range sale.Items {
		text = append(text, clip(fmt.Sprintf("%dx %s", item.Quantity, item.Name), width))
		text = append(text, spread("", brl(item.LineTotal())))
	}
	text = append(text, rule('-'))

	lines := []Line{{Label: "Subtotal", Amount: sale.Subtotal}}
	if sale.Discount.IsPositive() {
		lines = append(lines, Line{Label: "Desconto", Amount: sale.Discount.Neg()})
	}
	if sale.GraceFee.IsPositive() {
		lines = append(lines, Line{Label: "Taxa carência", Amount: sale.GraceFee})
	}
	if sale.Interest.IsPositive() {
		lines = append(lines, Line{Label: "Juros parcelamento", Amount: sale.Interest})
	}
	if sale.InterestAndFines.IsPositive() {
		lines = append(lines, Line{Label: "Juros/multa pagos", Amount: sale.InterestAndFines})
	}
	lines = append(lines, Line{Label: "TOTAL", Amount: sale.Total})
	if sale.PaymentMethod == domain.PaymentMoney {
		lines = append(lines,
			Line{Label: "Recebido", Amount: sale.CashReceived},
			Line{Label: "Troco", Amount: sale.Change},
		)
	}
	for _, l := range lines {
		text = append(text, spread(l.Label+":", brl(l.Amount)))
	}

	payment := "Forma: " + MethodLabel(sale.PaymentMethod)
	if sale.Installments > 1 {
		payment += fmt.Sprintf(" (%dx)", sale.Installments)
	}
	text = append(text, payment)
	if sale.Status == domain.SaleCancelled {
		text = append(text, center("*** VENDA CANCELADA ***"))
	}
	text = append(text, rule('='), center("*** NÃO É DOCUMENTO FISCAL ***"), "")

	return build("sale", fmt.Sprintf("%06d", sale.Sequence), lines, text)
}

func Debt(storeName string, paid domain.DebtReceipt, at time.Time, loc *time.Location) Document {
	at = at.In(loc)
	rec := paid.Record
	customer := domain.UnidentifiedCustomerName
	if paid.Customer != nil {
		customer = paid.Customer.Name
	}
	text := []string{
		center(storeName),
		center("Recibo de Pagamento - Crediário"),
		rule('='),
		spread("Data Pagto:", at.Format("02/01/2006 15:04")),
		"Cliente: " + clip(customer, 25),
		rule('-'),
		"Ref: " + rec.Description,
		spread("Vencimento Orig:", rec.DueDate.Time(loc).Format("02/01/2006")),
		rule('-'),
	}

	lines := []Line{{Label: "Valor Original", Amount: paid.Due.OriginalAmount}}
	if paid.Due.Fine.IsPositive() {
		lines = append(lines, Line{Label: "Multa (2%)", Amount: paid.Due.Fine})
	}
	if paid.Due.Interest.IsPositive() {
		lines = append(lines, Line{Label: "Juros (1% a.m)", Amount: paid.Due.Interest})
	}
	lines = append(lines, Line{Label: "TOTAL PAGO", Amount: paid.Due.Total})
	if paid.Change.IsPositive() {
		lines = append(lines, Line{Label: "Troco", Amount: paid.Change})
	}
	for _, l := range lines {
		text = append(text, spread(l.Label+":", brl(l.Amount)))
	}
	if paid.Due.IsLate {
		text = append(text, fmt.Sprintf("Dias em atraso: %d", paid.Due.DaysLate))
	}
	if rec.PaymentMethod != "" {
		text = append(text, "Forma: "+MethodLabel(rec.PaymentMethod))
	}
	text = append(text, rule('='), center("Obrigado pela preferência!"), "")

	return build("debt", rec.ID, lines, text)
}

func build(kind string, reference string, lines []Line, text []string) Document {
	escpos := append([]byte{}, escInit...)
	for _, line := range text {
		escpos = append(escpos, []byte(line)...)
		escpos = append(escpos, '\n')
	}
	escpos = append(escpos, escCut...)

	return Document{
		Kind:         kind,
		Reference:    reference,
		Lines:        lines,
		PreviewText:  strings.Join(text, "\n"),
		EscposBase64: base64.StdEncoding.EncodeToString(escpos),
		FileName:     fmt.Sprintf("receipt-%s-%s.bin", kind, reference),
	}
}

func MethodLabel(method domain.PaymentMethod) string {
	switch method {
	case domain.PaymentMoney:
		return "Dinheiro"
	case domain.PaymentPix:
		return "PIX"
	case domain.PaymentDebitCard:
		return "Cartão de Débito"
	case domain.PaymentCreditCard:
		return "Cartão de Crédito"
	case domain.PaymentBemol:
		return "Bemol"
	case domain.PaymentStoreCredit:
		return "Crediário"
	default:
		return string(method)
	}
}

// brl renders an amount the way Brazilian receipts print it: R$ 1.234,56.
func brl(amount decimal.Decimal) string {
	sign := ""
	if amount.IsNegative() {
		sign = "- "
		amount = amount.Neg()
	}
	fixed := amount.StringFixed(2)
	whole, cents, _ := strings.Cut(fixed, ".")
	var grouped strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			grouped.WriteByte('.')
		}
		grouped.WriteRune(r)
	}
	return sign + "R$ " + grouped.String() + "," + cents
}

func rule(ch byte) string {
	return strings.Repeat(string(ch), width)
}

func center(s string) string {
	n := utf8.RuneCountInString(s)
	if n >= width {
		return s
	}
	return strings.Repeat(" ", (width-n)/2) + s
}

func spread(left string, right string) string {
	gap := width - utf8.RuneCountInString(left) - utf8.RuneCountInString(right)
	if gap < 1 {
		gap = 1
	}
	return left + strings.Repeat(" ", gap) + right
}

func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
