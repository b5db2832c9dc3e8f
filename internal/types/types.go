package types

type ChatRequest struct {
	SessionID string `json:"sessionId,omitempty"`
	Message   string `json:"message"`
	// Topic is the conversation thread the message was typed in, if any.
	Topic string `json:"topic,omitempty"`
}

type ChatResponse struct {
	SessionID string   `json:"sessionId"`
	Reply     string   `json:"reply"`
	HTML      string   `json:"html,omitempty"`
	Kind      string   `json:"kind"`
	Topic     string   `json:"topic,omitempty"`
	FollowUps []string `json:"followUps,omitempty"`
	Step      string   `json:"step,omitempty"`
	Action    string   `json:"action,omitempty"`
	RuleID    string   `json:"ruleId,omitempty"`
	RequestID string   `json:"requestId,omitempty"`
	// Sent is true on the reply that confirms a delivered contact message.
	Sent bool `json:"sent,omitempty"`
	// DeliveryError is the last failed delivery, while the dialogue is in
	// its error step.
	DeliveryError string `json:"deliveryError,omitempty"`
}

type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

type TopicSummary struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Icon        string `json:"icon,omitempty"`
	Description string `json:"description,omitempty"`
}

type TopicsResponse struct {
	Default string         `json:"default"`
	Topics  []TopicSummary `json:"topics"`
}

type TopicResponse struct {
	TopicSummary
	InitialMessage string   `json:"initialMessage"`
	HTML           string   `json:"html,omitempty"`
	FollowUps      []string `json:"followUps,omitempty"`
}

type HistoryMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Kind    string `json:"kind,omitempty"`
	Topic   string `json:"topic,omitempty"`
	At      string `json:"at"`
}

type HistoryResponse struct {
	SessionID string           `json:"sessionId"`
	Messages  []HistoryMessage `json:"messages"`
}

type ThemesResponse struct {
	Themes       []string `json:"themes"`
	Default      string   `json:"default"`
	Current      string   `json:"current"`
	ShowSelector bool     `json:"showSelector"`
}

type ThemeRequest struct {
	Theme string `json:"theme"`
}

type DisclaimerResponse struct {
	Disclaimer string `json:"disclaimer"`
}

// SubmitResponse is the relay's success body.
type SubmitResponse struct {
	Message   string `json:"message"`
	RequestID string `json:"requestId"`
}
