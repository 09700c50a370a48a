package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"qianfan-chat/internal/adapter/tool"
)

const currentTimeSchema = `{
	"type": "object",
	"properties": {
		"timezone": {"type": "string", "description": "IANA time zone, e.g. Asia/Shanghai"}
	}
}`

const wordCountSchema = `{
	"type": "object",
	"properties": {
		"text": {"type": "string"}
	},
	"required": ["text"]
}`

type currentTimeParams struct {
	Timezone string `json:"timezone"`
}

type wordCountParams struct {
	Text string `json:"text"`
}

// now is replaced in tests.
var now = time.Now

func registerBuiltinTools(reg *tool.Registry) error {
	currentTime, err := tool.NewTypedFunction("current_time",
		"Returns the current time in the given time zone (UTC when omitted).",
		currentTimeSchema, currentTime)
	if err != nil {
		return err
	}
	wordCount, err := tool.NewTypedFunction("word_count",
		"Counts the words in a piece of text.",
		wordCountSchema, countWords)
	if err != nil {
		return err
	}

	for _, cb := range []*tool.FunctionCallback{currentTime, wordCount} {
		if err := reg.Register(cb); err != nil {
			return err
		}
	}
	return nil
}

func currentTime(_ context.Context, p currentTimeParams) (any, error) {
	loc := time.UTC
	if p.Timezone != "" {
		l, err := time.LoadLocation(p.Timezone)
		if err != nil {
			return nil, fmt.Errorf("unknown time zone %q", p.Timezone)
		}
		loc = l
	}
	t := now().In(loc)
	return map[string]string{
		"time":     t.Format(time.RFC3339),
		"timezone": loc.String(),
		"weekday":  t.Weekday().String(),
	}, nil
}

func countWords(_ context.Context, p wordCountParams) (any, error) {
	return map[string]int{"words": len(strings.Fields(p.Text))}, nil
}
