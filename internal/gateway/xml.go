package gateway

import (
	"encoding/xml"
	"errors"
	"fmt"

	"github.com/luowen-ai/wechat-relay/internal/model"
)

// ErrMalformedPayload marks an inbound request whose body could not be
// parsed into an envelope. Answered with HTTP 400, never retried.
var ErrMalformedPayload = errors.New("malformed payload")

// inboundXML mirrors the tagged fields of a platform callback body.
// CDATA sections decode as plain character data.
type inboundXML struct {
	XMLName      xml.Name `xml:"xml"`
	ToUserName   string   `xml:"ToUserName"`
	FromUserName string   `xml:"FromUserName"`
	CreateTime   int64    `xml:"CreateTime"`
	MsgType      string   `xml:"MsgType"`
	Content      string   `xml:"Content"`
	MsgID        string   `xml:"MsgId"`
	Event        string   `xml:"Event"`
	Recognition  string   `xml:"Recognition"`
}

// parseEnvelope decodes a callback body. Sender, recipient and message
// type are mandatory.
func parseEnvelope(data []byte) (*model.InboundEnvelope, error) {
	var raw inboundXML
	if err := xml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if raw.FromUserName == "" || raw.ToUserName == "" || raw.MsgType == "" {
		return nil, fmt.Errorf("%w: missing mandatory fields", ErrMalformedPayload)
	}
	return &model.InboundEnvelope{
		ToUser:      raw.ToUserName,
		FromUser:    raw.FromUserName,
		CreateTime:  raw.CreateTime,
		MsgType:     raw.MsgType,
		Content:     raw.Content,
		MsgID:       raw.MsgID,
		Event:       raw.Event,
		Recognition: raw.Recognition,
	}, nil
}

// renderReply produces the synchronous reply envelope: inbound sender
// and recipient swapped, epoch creation time, fixed message type "text",
// and the reply text (possibly empty). The byte shape is part of the
// platform contract.
func renderReply(env *model.InboundEnvelope, content string, createTime int64) string {
	return fmt.Sprintf(`<xml>
<ToUserName><![CDATA[%s]]></ToUserName>
<FromUserName><![CDATA[%s]]></FromUserName>
<CreateTime>%d</CreateTime>
<MsgType><![CDATA[text]]></MsgType>
<Content><![CDATA[%s]]></Content>
</xml>`, env.FromUser, env.ToUser, createTime, content)
}
