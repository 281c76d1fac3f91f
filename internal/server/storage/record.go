package storage

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/palemoky/realtime-chat/internal/protocol"
)

// encodeRecord 将历史消息编码为 protobuf Struct
// payload 以原始 JSON 文本保存，避免数字精度在 Struct 中丢失
func encodeRecord(msg protocol.HistoryMessage) ([]byte, error) {
	fields := map[string]any{
		"id":        msg.ID,
		"type":      string(msg.Type),
		"clientId":  msg.ClientID,
		"timestamp": msg.Timestamp,
	}
	if len(msg.Payload) > 0 {
		fields["payload"] = string(msg.Payload)
	}

	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("构建历史记录失败: %w", err)
	}
	return proto.Marshal(st)
}

// decodeRecord 解码 encodeRecord 生成的字节
func decodeRecord(data []byte) (protocol.HistoryMessage, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(data, &st); err != nil {
		return protocol.HistoryMessage{}, fmt.Errorf("反序列化历史记录失败: %w", err)
	}

	fields := st.GetFields()
	msg := protocol.HistoryMessage{
		ID:        fields["id"].GetStringValue(),
		Type:      protocol.MessageType(fields["type"].GetStringValue()),
		ClientID:  fields["clientId"].GetStringValue(),
		Timestamp: fields["timestamp"].GetStringValue(),
	}
	if v, ok := fields["payload"]; ok {
		msg.Payload = json.RawMessage(v.GetStringValue())
	}
	return msg, nil
}
