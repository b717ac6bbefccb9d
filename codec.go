package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

// Inbound is a decoded client frame whose payload is bound lazily.
type Inbound struct {
	Type string
	ID   string
	bind func(v any) error
}

func (in Inbound) Bind(v any) error {
	if in.bind == nil {
		return nil
	}
	return in.bind(v)
}

type Codec interface {
	Name() string
	FrameType() int
	Encode(env Envelope) ([]byte, error)
	Decode(data []byte) (Inbound, error)
}

func codecByName(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		return jsonCodec{}, nil
	case "msgpack":
		return msgpackCodec{}, nil
	}
	return nil, fmt.Errorf("unsupported codec %q", name)
}

type jsonCodec struct{}

type jsonInbound struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

func (jsonCodec) Name() string   { return "json" }
func (jsonCodec) FrameType() int { return websocket.TextMessage }

func (jsonCodec) Encode(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

func (jsonCodec) Decode(data []byte) (Inbound, error) {
	var raw jsonInbound
	if err := json.Unmarshal(data, &raw); err != nil {
		return Inbound{}, fmt.Errorf("decode json frame: %w", err)
	}
	in := Inbound{Type: raw.Type, ID: raw.ID}
	if len(raw.Payload) > 0 {
		in.bind = func(v any) error { return json.Unmarshal(raw.Payload, v) }
	}
	return in, nil
}

// msgpackCodec reuses the json struct tags so both codecs share one set of payload types.
type msgpackCodec struct{}

type msgpackInbound struct {
	Type    string             `msgpack:"type"`
	ID      string             `msgpack:"id"`
	Payload msgpack.RawMessage `msgpack:"payload"`
}

func (msgpackCodec) Name() string   { return "msgpack" }
func (msgpackCodec) FrameType() int { return websocket.BinaryMessage }

func (msgpackCodec) Encode(env Envelope) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(env); err != nil {
		return nil, fmt.Errorf("encode msgpack frame: %w", err)
	}
	return buf.Bytes(), nil
}

func (msgpackCodec) Decode(data []byte) (Inbound, error) {
	var raw msgpackInbound
	if err := msgpack.Unmarshal(data, &raw); err != nil {
		return Inbound{}, fmt.Errorf("decode msgpack frame: %w", err)
	}
	in := Inbound{Type: raw.Type, ID: raw.ID}
	if len(raw.Payload) > 0 {
		in.bind = func(v any) error {
			dec := msgpack.NewDecoder(bytes.NewReader(raw.Payload))
			dec.SetCustomStructTag("json")
			return dec.Decode(v)
		}
	}
	return in, nil
}
