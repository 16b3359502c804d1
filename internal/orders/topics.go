package orders

const (
	TopicOrderPlaced   = "shop.order.placed"
	TopicOrderStatus   = "shop.order.status"
	TopicPaymentAlerts = "shop.payment.ops"
)

// Partition key = order_id, so every event for one order keeps its ordering.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
