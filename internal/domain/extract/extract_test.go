package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtract_DirectDebitWithMandate(t *testing.T) {
	d := Extract("DIRECT DEBIT PAYMENT TO BRITISH GAS REF 882204417, MANDATE NO 0044")

	assert.Equal(t, KindDirectDebit, d.Kind)
	assert.Equal(t, "BRITISH GAS", d.Payee)
	assert.Equal(t, "882204417", d.Reference)
	assert.Equal(t, "0044", d.MandateNo)
	assert.Empty(t, d.Provider)
}

func TestExtract_CardPaymentViaWallet(t *testing.T) {
	d := Extract("CARD PAYMENT TO TESCO STORES 2045 VIA APPLE PAY")

	assert.Equal(t, KindCardPayment, d.Kind)
	assert.Equal(t, "TESCO STORES 2045", d.Payee)
	assert.Equal(t, "APPLE PAY", d.Provider)
}

func TestExtract_StandingOrder(t *testing.T) {
	d := Extract("STANDING ORDER PAYMENT TO J SMITH REF RENT-2025")

	assert.Equal(t, KindStandingOrder, d.Kind)
	assert.Equal(t, "J SMITH", d.Payee)
	assert.Equal(t, "RENT-2025", d.Reference)
}

func TestExtract_Transfer(t *testing.T) {
	d := Extract("TRANSFER TO SAVINGS ACCOUNT")

	assert.Equal(t, KindTransfer, d.Kind)
	assert.Equal(t, "SAVINGS ACCOUNT", d.Payee)
}

func TestExtract_NoStructure(t *testing.T) {
	d := Extract("AMZN MKTP UK*AB12CD3EF")

	assert.Equal(t, KindUnknown, d.Kind)
	assert.False(t, d.HasPayee())
	assert.Empty(t, d.Reference)
	assert.Empty(t, d.MandateNo)
}

func TestExtract_CollapsesWhitespace(t *testing.T) {
	d := Extract("  DIRECT DEBIT   PAYMENT TO   OCTOPUS ENERGY   REF OE-991 ")

	assert.Equal(t, "OCTOPUS ENERGY", d.Payee)
	assert.Equal(t, "OE-991", d.Reference)
}

func TestExtract_ProviderVariant(t *testing.T) {
	d := Extract("CARD PAYMENT TO COSTA VIA GOOGLE PAY")

	assert.Equal(t, "GOOGLE PAY", d.Provider)
}

func TestExtract_PayeeStopsAtComma(t *testing.T) {
	d := Extract("DIRECT DEBIT PAYMENT TO THAMES WATER, MANDATE NO 0102")

	assert.Equal(t, "THAMES WATER", d.Payee)
	assert.Equal(t, "0102", d.MandateNo)
}
