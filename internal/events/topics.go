package events

// Topic constants for payment events emitted by the engine.
const (
	TopicPaymentSucceeded = "payment.succeeded"
)

// DefaultTopics returns the topics the publisher writes to.
func DefaultTopics() []string {
	return []string{TopicPaymentSucceeded}
}
