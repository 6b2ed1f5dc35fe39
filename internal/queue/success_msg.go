package queue

import (
	"fmt"
	"strconv"
	"time"
)

// SuccessMessage 秒杀成功事件：热路径写入 outbox，经 relay 转发到 Kafka，由 Consumer 落库。
type SuccessMessage struct {
	RecordID     string    `json:"record_id"`
	UserID       int64     `json:"user_id"`
	SpuID        int64     `json:"spu_id"`
	SkuID        int64     `json:"sku_id"`
	Quantity     int       `json:"quantity"`
	SeckillPrice int64     `json:"seckill_price"` // 分
	OrderSn      string    `json:"order_sn"`
	CreatedAt    time.Time `json:"created_at"`
}

// Validate 做最小字段校验，防止消费者处理脏消息。
func (m SuccessMessage) Validate() error {
	if m.RecordID == "" {
		return fmt.Errorf("record_id is required")
	}
	if m.UserID <= 0 {
		return fmt.Errorf("user_id is required")
	}
	if m.SpuID <= 0 || m.SkuID <= 0 {
		return fmt.Errorf("spu_id and sku_id are required")
	}
	if m.Quantity <= 0 {
		return fmt.Errorf("quantity must be > 0")
	}
	if m.SeckillPrice < 0 {
		return fmt.Errorf("seckill_price must be >= 0")
	}
	return nil
}

func (m SuccessMessage) streamValues() map[string]interface{} {
	return map[string]interface{}{
		"record_id":     m.RecordID,
		"user_id":       m.UserID,
		"spu_id":        m.SpuID,
		"sku_id":        m.SkuID,
		"quantity":      m.Quantity,
		"seckill_price": m.SeckillPrice,
		"order_sn":      m.OrderSn,
		"created_at":    m.CreatedAt.UnixMilli(),
	}
}

func parseSuccessEvent(values map[string]interface{}) (SuccessMessage, error) {
	var (
		msg SuccessMessage
		err error
	)
	if msg.RecordID, err = getStreamString(values, "record_id"); err != nil {
		return SuccessMessage{}, err
	}
	if msg.OrderSn, err = getStreamString(values, "order_sn"); err != nil {
		return SuccessMessage{}, err
	}
	ints := []struct {
		key string
		dst *int64
	}{
		{"user_id", &msg.UserID},
		{"spu_id", &msg.SpuID},
		{"sku_id", &msg.SkuID},
		{"seckill_price", &msg.SeckillPrice},
	}
	for _, f := range ints {
		if *f.dst, err = getStreamInt(values, f.key); err != nil {
			return SuccessMessage{}, err
		}
	}
	qty, err := getStreamInt(values, "quantity")
	if err != nil {
		return SuccessMessage{}, err
	}
	msg.Quantity = int(qty)
	ms, err := getStreamInt(values, "created_at")
	if err != nil {
		return SuccessMessage{}, err
	}
	msg.CreatedAt = time.UnixMilli(ms)

	if err := msg.Validate(); err != nil {
		return SuccessMessage{}, err
	}
	return msg, nil
}

func getStreamInt(values map[string]interface{}, key string) (int64, error) {
	s, err := getStreamString(values, key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", key, s)
	}
	return n, nil
}

func getStreamString(values map[string]interface{}, key string) (string, error) {
	v, ok := values[key]
	if !ok {
		return "", fmt.Errorf("missing field %s", key)
	}
	switch x := v.(type) {
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case uint64:
		return strconv.FormatUint(x, 10), nil
	case float64:
		return strconv.FormatInt(int64(x), 10), nil
	default:
		return "", fmt.Errorf("unsupported field type %s: %T", key, v)
	}
}
