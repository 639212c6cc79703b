package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luowen-ai/wechat-relay/internal/model"
)

func TestParseEnvelopeAllFields(t *testing.T) {
	body := `<xml>
<ToUserName><![CDATA[gh_account]]></ToUserName>
<FromUserName><![CDATA[user123]]></FromUserName>
<CreateTime>1700000000</CreateTime>
<MsgType><![CDATA[text]]></MsgType>
<Content><![CDATA[你好 <world>]]></Content>
<MsgId>12345</MsgId>
</xml>`

	env, err := parseEnvelope([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, "gh_account", env.ToUser)
	assert.Equal(t, "user123", env.FromUser)
	assert.Equal(t, int64(1700000000), env.CreateTime)
	assert.Equal(t, "text", env.MsgType)
	assert.Equal(t, "你好 <world>", env.Content, "CDATA content decodes verbatim")
	assert.Equal(t, "12345", env.MsgID)
}

func TestParseEnvelopeVoiceFields(t *testing.T) {
	body := `<xml>
<ToUserName><![CDATA[gh]]></ToUserName>
<FromUserName><![CDATA[u]]></FromUserName>
<MsgType><![CDATA[voice]]></MsgType>
<Recognition><![CDATA[转写结果]]></Recognition>
</xml>`

	env, err := parseEnvelope([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, "voice", env.MsgType)
	assert.Equal(t, "转写结果", env.Recognition)
}

func TestParseEnvelopeMissingMandatoryFields(t *testing.T) {
	_, err := parseEnvelope([]byte(`<xml><MsgType><![CDATA[text]]></MsgType></xml>`))
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestParseEnvelopeGarbage(t *testing.T) {
	_, err := parseEnvelope([]byte("{json: maybe}"))
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestRenderReplySwapsUsers(t *testing.T) {
	env := &model.InboundEnvelope{FromUser: "user123", ToUser: "gh_account"}

	got := renderReply(env, "回复内容", 1700000000)
	want := `<xml>
<ToUserName><![CDATA[user123]]></ToUserName>
<FromUserName><![CDATA[gh_account]]></FromUserName>
<CreateTime>1700000000</CreateTime>
<MsgType><![CDATA[text]]></MsgType>
<Content><![CDATA[回复内容]]></Content>
</xml>`
	assert.Equal(t, want, got)
}

func TestRenderReplyEmptyContent(t *testing.T) {
	env := &model.InboundEnvelope{FromUser: "u", ToUser: "gh"}
	assert.Contains(t, renderReply(env, "", 1), "<Content><![CDATA[]]></Content>")
}

func TestSessionKey(t *testing.T) {
	env := &model.InboundEnvelope{FromUser: "openid-1"}
	assert.Equal(t, "wechat_mp:openid-1", env.SessionKey())
	assert.Equal(t, "openid-1", model.UserIDFromSessionKey(env.SessionKey()))
}
