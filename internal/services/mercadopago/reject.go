package mercadopago

// rejectMessages maps provider status_detail codes on rejected payments to
// user-facing messages.
var rejectMessages = map[string]string{
	"cc_rejected_bad_filled_card_number":   "Invalid card number",
	"cc_rejected_bad_filled_date":          "Invalid expiration date",
	"cc_rejected_bad_filled_other":         "Invalid card details",
	"cc_rejected_bad_filled_security_code": "Invalid security code",
	"cc_rejected_blacklist":                "Card not authorized",
	"cc_rejected_call_for_authorize":       "Contact your bank to authorize the payment",
	"cc_rejected_card_disabled":            "Card is disabled",
	"cc_rejected_card_error":               "Card error",
	"cc_rejected_duplicated_payment":       "Duplicated payment",
	"cc_rejected_high_risk":                "Payment declined for security reasons",
	"cc_rejected_insufficient_amount":      "Insufficient balance",
	"cc_rejected_invalid_installments":     "Invalid installments",
	"cc_rejected_max_attempts":             "Attempt limit exceeded",
	"cc_rejected_other_reason":             "Payment declined",
}

// RejectMessage maps a rejection status_detail to its user-facing message.
func RejectMessage(statusDetail string) string {
	if msg, ok := rejectMessages[statusDetail]; ok {
		return msg
	}
	return "Payment not processed. Try again."
}
