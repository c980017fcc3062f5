package httpd

import "time"

type GenerateQRReq struct {
	BankCode    string `json:"bankCode"`
	BankAccount string `json:"bankAccount"`
	Amount      string `json:"amount" validate:"required,numeric"`
	Message     string `json:"message" validate:"max=500"`
	ClientRef   string `json:"clientRef" validate:"omitempty,max=80,excludesall=."`
	CreatedBy   string `json:"createdBy"`
}

type GenerateOrderQRReq struct {
	CreatedBy string `json:"createdBy"`
}

type GenerateQRResp struct {
	ResponseCode    string    `json:"responseCode"`
	ResponseMessage string    `json:"responseMessage"`
	TransactionID   string    `json:"transactionId"`
	Amount          string    `json:"amount"`
	QRContent       string    `json:"qrContent"`
	ImageURL        string    `json:"imageUrl"`
	ExpireAt        time.Time `json:"expireAt"`
}

type ValidateQRReq struct {
	QRContent string `json:"qrContent" validate:"required"`
	Username  string `json:"username"`
}

type ValidateQRResp struct {
	Valid         bool   `json:"valid"`
	TransactionID string `json:"transactionId,omitempty"`
	OrderID       int64  `json:"orderId,omitempty"`
	Message       string `json:"message"`
}

type DebugParseReq struct {
	QRContent     string `json:"qrContent" validate:"required_without=TransactionID"`
	TransactionID string `json:"transactionId" validate:"required_without=QRContent"`
}

type WebhookAck struct {
	Success       bool   `json:"success"`
	Outcome       string `json:"outcome"`
	Reason        string `json:"reason"`
	MatchedBy     string `json:"matchedBy,omitempty"`
	OrderID       int64  `json:"orderId,omitempty"`
	TransactionID string `json:"transactionId,omitempty"`
}

type TxItem struct {
	TransactionID  string     `json:"transactionId"`
	BankCode       string     `json:"bankCode"`
	BankAccount    string     `json:"bankAccount"`
	Amount         string     `json:"amount"`
	Message        string     `json:"message"`
	CreatedBy      string     `json:"createdBy,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	ExpireAt       time.Time  `json:"expireAt"`
	Used           bool       `json:"used"`
	UsedBy         string     `json:"usedBy,omitempty"`
	UsedAt         *time.Time `json:"usedAt,omitempty"`
	SignatureKeyID string     `json:"signatureKeyId"`
}
