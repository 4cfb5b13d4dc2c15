package events

const (
	TopicOrderAdmitted = "order.admitted"
	TopicOrderRejected = "order.rejected"
	TopicKitchenTicket = "kitchen.ticket"
	TopicAnalytics     = "order.analytics"
)

// Partition key = order_id, supaya semua event 1 order maintain urutan.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
