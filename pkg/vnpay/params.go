package vnpay

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Request and callback parameter names.
const (
	ParamVersion           = "vnp_Version"
	ParamCommand           = "vnp_Command"
	ParamTmnCode           = "vnp_TmnCode"
	ParamAmount            = "vnp_Amount"
	ParamCreateDate        = "vnp_CreateDate"
	ParamExpireDate        = "vnp_ExpireDate"
	ParamCurrCode          = "vnp_CurrCode"
	ParamIPAddr            = "vnp_IpAddr"
	ParamLocale            = "vnp_Locale"
	ParamOrderInfo         = "vnp_OrderInfo"
	ParamOrderType         = "vnp_OrderType"
	ParamReturnURL         = "vnp_ReturnUrl"
	ParamTxnRef            = "vnp_TxnRef"
	ParamResponseCode      = "vnp_ResponseCode"
	ParamTransactionStatus = "vnp_TransactionStatus"
	ParamTransactionNo     = "vnp_TransactionNo"
	ParamBankCode          = "vnp_BankCode"
)

const (
	CommandPay   = "pay"
	CodeSuccess  = "00"
	DateLayout   = "20060102150405"
	amountFactor = 100
)

var hundred = decimal.NewFromInt(amountFactor)

// FormatDate renders t in loc using the gateway's yyyyMMddHHmmss layout.
func FormatDate(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(DateLayout)
}

// ToMinorUnits converts an amount to the integer value sent as vnp_Amount.
func ToMinorUnits(amount decimal.Decimal) (string, error) {
	if !amount.IsPositive() {
		return "", fmt.Errorf("%w: amount %s must be positive", ErrProtocol, amount)
	}
	minor := amount.Mul(hundred)
	if !minor.IsInteger() {
		return "", fmt.Errorf("%w: amount %s has more than two decimal places", ErrProtocol, amount)
	}
	return minor.StringFixed(0), nil
}

// FromMinorUnits parses a vnp_Amount value back into an amount.
func FromMinorUnits(raw string) (decimal.Decimal, error) {
	minor, err := decimal.NewFromString(raw)
	if err != nil || !minor.IsInteger() || minor.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: invalid amount %q", ErrProtocol, raw)
	}
	return minor.Div(hundred), nil
}

// Succeeded reports whether a verified callback describes a completed payment.
// vnp_TransactionStatus is only checked when the gateway sent it.
func Succeeded(params map[string]string) bool {
	if params[ParamResponseCode] != CodeSuccess {
		return false
	}
	status, ok := params[ParamTransactionStatus]
	return !ok || status == CodeSuccess
}
