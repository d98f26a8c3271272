package domain

// StageMessage is the work item published to the broker for one stage of
// one job. Delivery is at-least-once; executors tolerate redelivery.
type StageMessage struct {
	JobID string `json:"job_id"`
	Stage Stage  `json:"stage"`

	// DeliveryTag is the broker-assigned tag of the consumed message, used
	// for ack/nack. Never serialized.
	DeliveryTag uint64 `json:"-"`
}
