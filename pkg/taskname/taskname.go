package taskname

const (
	// Lifecycle notifications delivered to the automation webhook.
	LifecycleNotify = "lifecycle:notify"

	// Refund requests handed to the payment collaborator.
	PayoutRefundRequested = "payout:refund:requested"

	// Campaign progress events from external trackers.
	CampaignTrackingEvent = "campaign:tracking:event"
)
