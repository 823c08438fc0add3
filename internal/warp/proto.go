package warp

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Request wire schema, reconstructed from captured traffic:
//
//	Request:        1 task_context, 2 input, 3 settings, 4 metadata, 7 mcp_context
//	Input:          1 context, 2 user_query, 6 user_inputs
//	InputContext:   1 directory{1 pwd, 2 home}, 2 os{1 platform},
//	                3 shell{1 name, 2 version}, 4 current_time{1 seconds, 2 nanos}
//	UserQuery:      1 query, 3 attachments, 4 is_new_conversation
//	UserInputs:     1 inputs[]{1 user_query}
//	Settings:       1 model_config{1 base, 4 planning}, 2..8 feature bools,
//	                9 supported_tools (packed), 10..17 + 21 + 23 feature bools,
//	                22 client_supported_tools (packed)
//	Metadata:       1 conversation_id, 2 logging[]{1 key, 2 value}
//	MCPContext:     1 tools[]{1 name, 2 description, 3 input_schema (Struct)}
//
// ResponseEvent:
//
//	ResponseEvent:  1 init, 2 client_actions, 3 finished
//	Init:           1 conversation_id, 2 task_id
//	ClientActions:  1 actions[]
//	Action:         1 create_task{1 task{1 id}},
//	                2 add_messages_to_task{1 task_id, 2 messages[]},
//	                3 append_to_message_content{1 task_id, 2 message_id, 3 message}
//	TaskMessage:    1 id, 2 agent_output{1 text, 2 tool_call}
//	ToolCall:       1 call_id, 2 name, 3 args_json
//	Finished:       1 reason (varint: 1 max_token_limit, 2 quota_limit),
//	                2 token_usage{1 total_input_tokens, 2 total_output_tokens}

// RequestEnv is the environment context sent in input.context
type RequestEnv struct {
	Pwd         string
	Home        string
	Platform    string
	ShellName   string
	ShellVer    string
	TimeSeconds int64
	TimeNanos   int32
}

// MCPTool is one client-declared tool spliced into mcp_context
type MCPTool struct {
	Name        string
	Description string
	InputSchema map[string]interface{}
}

func appendMessage(b []byte, field protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, field, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func appendString(b []byte, field protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, field, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendBool(b []byte, field protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	b = protowire.AppendTag(b, field, protowire.VarintType)
	return protowire.AppendVarint(b, 1)
}

func appendVarintField(b []byte, field protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, field, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendPackedInts(b []byte, field protowire.Number, values []int) []byte {
	if len(values) == 0 {
		return b
	}
	var packed []byte
	for _, v := range values {
		packed = protowire.AppendVarint(packed, uint64(v))
	}
	return appendMessage(b, field, packed)
}

// encodeContext serializes input.context
func encodeContext(env RequestEnv) []byte {
	var dir []byte
	dir = appendString(dir, 1, env.Pwd)
	dir = appendString(dir, 2, env.Home)

	var osMsg []byte
	osMsg = appendString(osMsg, 1, env.Platform)

	var shell []byte
	shell = appendString(shell, 1, env.ShellName)
	shell = appendString(shell, 2, env.ShellVer)

	var ts []byte
	ts = appendVarintField(ts, 1, uint64(env.TimeSeconds))
	if env.TimeNanos > 0 {
		ts = appendVarintField(ts, 2, uint64(env.TimeNanos))
	}

	var ctx []byte
	ctx = appendMessage(ctx, 1, dir)
	ctx = appendMessage(ctx, 2, osMsg)
	ctx = appendMessage(ctx, 3, shell)
	ctx = appendMessage(ctx, 4, ts)
	return ctx
}

// encodeUserQuery serializes input.user_query
func encodeUserQuery(query string, isNewConversation bool) []byte {
	var uq []byte
	uq = appendString(uq, 1, query)
	uq = appendMessage(uq, 3, nil) // empty attachments
	uq = appendBool(uq, 4, isNewConversation)
	return uq
}

// encodeSettings serializes the settings block with the full feature-flag
// set the upstream client sends.
func encodeSettings(baseModel string, disableWarpTools bool) []byte {
	var mc []byte
	mc = appendString(mc, 1, baseModel)

	var s []byte
	s = appendMessage(s, 1, mc)
	for f := 2; f <= 8; f++ {
		s = appendBool(s, protowire.Number(f), true)
	}
	if !disableWarpTools {
		s = appendPackedInts(s, 9, supportedToolTypes)
	}
	for f := 10; f <= 17; f++ {
		s = appendBool(s, protowire.Number(f), true)
	}
	s = appendBool(s, 21, true)
	if !disableWarpTools {
		s = appendPackedInts(s, 22, clientSupportedToolTypes)
	}
	s = appendBool(s, 23, true)
	return s
}

// encodeMetadata serializes the logging blob. conversationID is accepted
// but must stay empty on outbound requests; a set id makes the upstream
// return empty responses.
func encodeMetadata(conversationID string) []byte {
	var md []byte
	if conversationID != "" {
		md = appendString(md, 1, conversationID)
	}
	md = append(md, encodeLoggingEntry("entrypoint", "USER_INITIATED")...)
	md = append(md, encodeLoggingBool("is_auto_resume_after_error", false)...)
	md = append(md, encodeLoggingBool("is_autodetected_user_query", true)...)
	return md
}

func encodeLoggingEntry(key, value string) []byte {
	var val []byte
	val = appendString(val, 3, value)

	var kv []byte
	kv = appendString(kv, 1, key)
	kv = appendMessage(kv, 2, val)

	var out []byte
	return appendMessage(out, 2, kv)
}

func encodeLoggingBool(key string, value bool) []byte {
	var val []byte
	val = protowire.AppendTag(val, 4, protowire.VarintType)
	if value {
		val = protowire.AppendVarint(val, 1)
	} else {
		val = protowire.AppendVarint(val, 0)
	}

	var kv []byte
	kv = appendString(kv, 1, key)
	kv = appendMessage(kv, 2, val)

	var out []byte
	return appendMessage(out, 2, kv)
}

// encodeMCPContext serializes mcp_context.tools. Tool input schemas ride
// as google.protobuf.Struct values.
func encodeMCPContext(tools []MCPTool) ([]byte, error) {
	var mcp []byte
	for _, tool := range tools {
		var t []byte
		t = appendString(t, 1, tool.Name)
		if tool.Description != "" {
			t = appendString(t, 2, tool.Description)
		}
		if tool.InputSchema != nil {
			st, err := structpb.NewStruct(tool.InputSchema)
			if err != nil {
				return nil, fmt.Errorf("tool %s input schema: %w", tool.Name, err)
			}
			schemaBytes, err := proto.Marshal(st)
			if err != nil {
				return nil, fmt.Errorf("tool %s input schema: %w", tool.Name, err)
			}
			t = appendMessage(t, 3, schemaBytes)
		}
		mcp = appendMessage(mcp, 1, t)
	}
	return mcp, nil
}

// ParseResponseEvents decodes one SSE data payload into normalized events.
// Payloads are length-delimited; a payload may carry several consecutive
// frames. A payload that is a single bare message is accepted too.
func ParseResponseEvents(payload []byte) ([]*StreamEvent, error) {
	if len(payload) == 0 {
		return nil, nil
	}

	// Try length-delimited framing first.
	var events []*StreamEvent
	rest := payload
	for len(rest) > 0 {
		size, n := protowire.ConsumeVarint(rest)
		if n < 0 || uint64(len(rest)-n) < size {
			events = nil
			break
		}
		frame := rest[n : n+int(size)]
		ev, err := parseResponseEvent(frame)
		if err != nil {
			events = nil
			break
		}
		events = append(events, ev)
		rest = rest[n+int(size):]
	}
	if events != nil {
		return events, nil
	}

	// Bare message fallback.
	ev, err := parseResponseEvent(payload)
	if err != nil {
		return nil, err
	}
	return []*StreamEvent{ev}, nil
}

func parseResponseEvent(frame []byte) (*StreamEvent, error) {
	ev := &StreamEvent{RawPayload: append([]byte(nil), frame...)}

	err := eachField(frame, func(num protowire.Number, val []byte) error {
		switch num {
		case 1:
			init := &InitEvent{}
			if err := eachField(val, func(n protowire.Number, v []byte) error {
				switch n {
				case 1:
					init.ConversationID = string(v)
				case 2:
					init.TaskID = string(v)
				}
				return nil
			}); err != nil {
				return err
			}
			ev.Init = init
		case 2:
			ca := &ClientActions{}
			if err := eachField(val, func(n protowire.Number, v []byte) error {
				if n == 1 {
					action, err := parseAction(v)
					if err != nil {
						return err
					}
					ca.Actions = append(ca.Actions, *action)
				}
				return nil
			}); err != nil {
				return err
			}
			ev.ClientActions = ca
		case 3:
			fin := &FinishedEvent{}
			if err := eachFieldVarint(val, func(n protowire.Number, v []byte, varint uint64, isVarint bool) error {
				switch {
				case n == 1 && isVarint:
					switch varint {
					case 1:
						fin.Reason = FinishReasonMaxTokenLimit
					case 2:
						fin.Reason = FinishReasonQuotaLimit
					}
				case n == 2 && !isVarint:
					usage := &TokenUsage{}
					if err := eachFieldVarint(v, func(un protowire.Number, _ []byte, uv uint64, uIsVarint bool) error {
						if uIsVarint {
							switch un {
							case 1:
								usage.TotalInputTokens = int64(uv)
							case 2:
								usage.TotalOutputTokens = int64(uv)
							}
						}
						return nil
					}); err != nil {
						return err
					}
					fin.TokenUsage = usage
				}
				return nil
			}); err != nil {
				return err
			}
			ev.Finished = fin
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return ev, nil
}

func parseAction(data []byte) (*Action, error) {
	action := &Action{}
	err := eachField(data, func(num protowire.Number, val []byte) error {
		switch num {
		case 1:
			ct := &CreateTask{}
			if err := eachField(val, func(n protowire.Number, v []byte) error {
				if n == 1 {
					return eachField(v, func(tn protowire.Number, tv []byte) error {
						if tn == 1 {
							ct.Task.ID = string(tv)
						}
						return nil
					})
				}
				return nil
			}); err != nil {
				return err
			}
			action.CreateTask = ct
		case 2:
			amt := &AddMessagesToTask{}
			if err := eachField(val, func(n protowire.Number, v []byte) error {
				switch n {
				case 1:
					amt.TaskID = string(v)
				case 2:
					msg, err := parseTaskMessage(v)
					if err != nil {
						return err
					}
					amt.Messages = append(amt.Messages, *msg)
				}
				return nil
			}); err != nil {
				return err
			}
			action.AddMessagesToTask = amt
		case 3:
			apc := &AppendToMessageContent{}
			if err := eachField(val, func(n protowire.Number, v []byte) error {
				switch n {
				case 1:
					apc.TaskID = string(v)
				case 2:
					apc.MessageID = string(v)
				case 3:
					msg, err := parseTaskMessage(v)
					if err != nil {
						return err
					}
					apc.Message = *msg
				}
				return nil
			}); err != nil {
				return err
			}
			action.AppendToMessageContent = apc
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return action, nil
}

func parseTaskMessage(data []byte) (*TaskMessage, error) {
	msg := &TaskMessage{}
	err := eachField(data, func(num protowire.Number, val []byte) error {
		switch num {
		case 1:
			msg.ID = string(val)
		case 2:
			out := &AgentOutput{}
			if err := eachField(val, func(n protowire.Number, v []byte) error {
				switch n {
				case 1:
					out.Text = string(v)
				case 2:
					tc := &ToolCallOutput{}
					if err := eachField(v, func(tn protowire.Number, tv []byte) error {
						switch tn {
						case 1:
							tc.CallID = string(tv)
						case 2:
							tc.Name = string(tv)
						case 3:
							tc.ArgsJSON = string(tv)
						}
						return nil
					}); err != nil {
						return err
					}
					out.ToolCall = tc
				}
				return nil
			}); err != nil {
				return err
			}
			msg.AgentOutput = out
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// eachField walks the length-delimited fields of a message, skipping
// scalar fields.
func eachField(data []byte, fn func(num protowire.Number, val []byte) error) error {
	return eachFieldVarint(data, func(num protowire.Number, val []byte, _ uint64, isVarint bool) error {
		if isVarint {
			return nil
		}
		return fn(num, val)
	})
}

// eachFieldVarint walks every field of a message, dispatching both
// length-delimited and varint fields.
func eachFieldVarint(data []byte, fn func(num protowire.Number, val []byte, varint uint64, isVarint bool) error) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("malformed tag")
		}
		data = data[n:]

		switch typ {
		case protowire.BytesType:
			val, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return fmt.Errorf("malformed bytes field %d", num)
			}
			if err := fn(num, val, 0, false); err != nil {
				return err
			}
			data = data[n:]
		case protowire.VarintType:
			val, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return fmt.Errorf("malformed varint field %d", num)
			}
			if err := fn(num, nil, val, true); err != nil {
				return err
			}
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return fmt.Errorf("malformed field %d", num)
			}
			data = data[n:]
		}
	}
	return nil
}

// EncodeResponseEvent serializes a normalized event back to the wire form
// with its length prefix. The decoder tests and the upstream stub in the
// handler tests both build streams with it.
func EncodeResponseEvent(ev *StreamEvent) []byte {
	var body []byte

	if ev.Init != nil {
		var init []byte
		if ev.Init.ConversationID != "" {
			init = appendString(init, 1, ev.Init.ConversationID)
		}
		if ev.Init.TaskID != "" {
			init = appendString(init, 2, ev.Init.TaskID)
		}
		body = appendMessage(body, 1, init)
	}

	if ev.ClientActions != nil {
		var ca []byte
		for _, action := range ev.ClientActions.Actions {
			ca = appendMessage(ca, 1, encodeAction(&action))
		}
		body = appendMessage(body, 2, ca)
	}

	if ev.Finished != nil {
		var fin []byte
		switch ev.Finished.Reason {
		case FinishReasonMaxTokenLimit:
			fin = appendVarintField(fin, 1, 1)
		case FinishReasonQuotaLimit:
			fin = appendVarintField(fin, 1, 2)
		}
		if ev.Finished.TokenUsage != nil {
			var usage []byte
			usage = appendVarintField(usage, 1, uint64(ev.Finished.TokenUsage.TotalInputTokens))
			usage = appendVarintField(usage, 2, uint64(ev.Finished.TokenUsage.TotalOutputTokens))
			fin = appendMessage(fin, 2, usage)
		}
		body = appendMessage(body, 3, fin)
	}

	var out []byte
	out = protowire.AppendVarint(out, uint64(len(body)))
	return append(out, body...)
}

func encodeAction(action *Action) []byte {
	var a []byte
	if action.CreateTask != nil {
		var task []byte
		task = appendString(task, 1, action.CreateTask.Task.ID)
		var ct []byte
		ct = appendMessage(ct, 1, task)
		a = appendMessage(a, 1, ct)
	}
	if action.AddMessagesToTask != nil {
		var amt []byte
		if action.AddMessagesToTask.TaskID != "" {
			amt = appendString(amt, 1, action.AddMessagesToTask.TaskID)
		}
		for _, msg := range action.AddMessagesToTask.Messages {
			amt = appendMessage(amt, 2, encodeTaskMessage(&msg))
		}
		a = appendMessage(a, 2, amt)
	}
	if action.AppendToMessageContent != nil {
		var apc []byte
		if action.AppendToMessageContent.TaskID != "" {
			apc = appendString(apc, 1, action.AppendToMessageContent.TaskID)
		}
		if action.AppendToMessageContent.MessageID != "" {
			apc = appendString(apc, 2, action.AppendToMessageContent.MessageID)
		}
		apc = appendMessage(apc, 3, encodeTaskMessage(&action.AppendToMessageContent.Message))
		a = appendMessage(a, 3, apc)
	}
	return a
}

func encodeTaskMessage(msg *TaskMessage) []byte {
	var m []byte
	if msg.ID != "" {
		m = appendString(m, 1, msg.ID)
	}
	if msg.AgentOutput != nil {
		var out []byte
		if msg.AgentOutput.Text != "" {
			out = appendString(out, 1, msg.AgentOutput.Text)
		}
		if tc := msg.AgentOutput.ToolCall; tc != nil {
			var tcb []byte
			if tc.CallID != "" {
				tcb = appendString(tcb, 1, tc.CallID)
			}
			if tc.Name != "" {
				tcb = appendString(tcb, 2, tc.Name)
			}
			if tc.ArgsJSON != "" {
				tcb = appendString(tcb, 3, tc.ArgsJSON)
			}
			out = appendMessage(out, 2, tcb)
		}
		m = appendMessage(m, 2, out)
	}
	return m
}
