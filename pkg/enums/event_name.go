package enums

// EventName is a standard event name recognized by the attribution platform.
// Submissions with an unrecognized name are recorded as EventNameCustom with
// the original value preserved alongside.
type EventName string

const (
	EventNamePageView             EventName = "PageView"
	EventNameViewContent          EventName = "ViewContent"
	EventNameSearch               EventName = "Search"
	EventNameAddToCart            EventName = "AddToCart"
	EventNameAddToWishlist        EventName = "AddToWishlist"
	EventNameInitiateCheckout     EventName = "InitiateCheckout"
	EventNameAddPaymentInfo       EventName = "AddPaymentInfo"
	EventNamePurchase             EventName = "Purchase"
	EventNameLead                 EventName = "Lead"
	EventNameCompleteRegistration EventName = "CompleteRegistration"
	EventNameContact              EventName = "Contact"
	EventNameSubscribe            EventName = "Subscribe"
	EventNameStartTrial           EventName = "StartTrial"
	EventNameCustom               EventName = "Custom"
)

var standardEventNames = []EventName{
	EventNamePageView,
	EventNameViewContent,
	EventNameSearch,
	EventNameAddToCart,
	EventNameAddToWishlist,
	EventNameInitiateCheckout,
	EventNameAddPaymentInfo,
	EventNamePurchase,
	EventNameLead,
	EventNameCompleteRegistration,
	EventNameContact,
	EventNameSubscribe,
	EventNameStartTrial,
}

// IsStandard reports whether the name belongs to the fixed standard set.
func (n EventName) IsStandard() bool {
	for _, candidate := range standardEventNames {
		if candidate == n {
			return true
		}
	}
	return false
}

// ResolveEventName maps a raw submission name onto the standard set. Unknown
// values fall back to Custom and the raw value is returned for preservation.
func ResolveEventName(value string) (EventName, string) {
	name := EventName(value)
	if name.IsStandard() {
		return name, ""
	}
	return EventNameCustom, value
}
