package warp

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// requestTemplate is a captured new-conversation request known to be
// accepted by the upstream. The query substitution below recomputes every
// enclosing length prefix, so only the template's structure matters.
var requestTemplate = mustHex(
	"0a00125a0a430a1e0a0d2f55736572732f6c6f66796572120d2f55736572732f6c6f6679657212070a054d61634f531a0a0a037a73681203352e39220c08eeb8d3cb0610908ef0bd0232130a110a0f0a09e4bda0e5a5bde591801a0020011a660a210a0f636c617564652d342d352d6f707573220e636c692d6167656e742d6175746f1001180120013001380140014a1306070c08090f0e000b100a141113120203010d500158016001680170017801800101880101a80101b201070a1406070c0201b801012264121e0a0a656e747279706f696e7412101a0e555345525f494e4954494154454412200a1a69735f6175746f5f726573756d655f61667465725f6572726f721202200012200a1a69735f6175746f64657465637465645f757365725f717565727912022001",
)

// Template layout constants. The Input message spans bytes 2..93:
// task_context is the leading "0a 00", context occupies 67 bytes starting
// at offset 6, user_inputs follows it, and settings begin at offset 94.
const (
	templateInputStart      = 4
	templateContextLen      = 67
	templateUserInputsStart = templateInputStart + 2 + templateContextLen
	templateSettingsStart   = 94
)

// Byte patterns of the two packed tool lists inside the template's
// settings block, stripped when warp tools are disabled.
var (
	supportedToolsPattern       = mustHex("4a1306070c08090f0e000b100a141113120203010d")
	clientSupportedToolsPattern = mustHex("b201070a1406070c0201")
)

func mustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}

// BuildFromTemplate produces a new-conversation request with the query
// substituted into the captured template.
func BuildFromTemplate(query string, disableWarpTools bool, tools []MCPTool) ([]byte, error) {
	if requestTemplate[templateUserInputsStart] != 0x32 {
		return nil, fmt.Errorf("template corrupt: expected user_inputs tag at %d", templateUserInputsStart)
	}

	// user_query content: query + empty attachments + is_new_conversation
	queryBytes := []byte(query)
	userQuery := []byte{0x0a}
	userQuery = protowire.AppendVarint(userQuery, uint64(len(queryBytes)))
	userQuery = append(userQuery, queryBytes...)
	userQuery = append(userQuery, 0x1a, 0x00, 0x20, 0x01)

	// Rewrap: user_inputs{ inputs{ user_input{ user_query } } }
	userInput := []byte{0x0a}
	userInput = protowire.AppendVarint(userInput, uint64(len(userQuery)))
	userInput = append(userInput, userQuery...)

	inputs := []byte{0x0a}
	inputs = protowire.AppendVarint(inputs, uint64(len(userInput)))
	inputs = append(inputs, userInput...)

	userInputs := []byte{0x32}
	userInputs = protowire.AppendVarint(userInputs, uint64(len(inputs)))
	userInputs = append(userInputs, inputs...)

	// Rebuild the Input message: unchanged context + new user_inputs
	contextPart := requestTemplate[templateInputStart:templateUserInputsStart]
	inputContent := make([]byte, 0, len(contextPart)+len(userInputs))
	inputContent = append(inputContent, contextPart...)
	inputContent = append(inputContent, userInputs...)

	inputMsg := []byte{0x12}
	inputMsg = protowire.AppendVarint(inputMsg, uint64(len(inputContent)))
	inputMsg = append(inputMsg, inputContent...)

	// Assemble: empty task_context + rebuilt input + unchanged tail
	result := make([]byte, 0, 2+len(inputMsg)+len(requestTemplate)-templateSettingsStart)
	result = append(result, 0x0a, 0x00)
	result = append(result, inputMsg...)
	result = append(result, requestTemplate[templateSettingsStart:]...)

	if disableWarpTools {
		result = stripToolLists(result)
	}

	if len(tools) > 0 {
		mcp, err := encodeMCPContext(tools)
		if err != nil {
			return nil, err
		}
		result = appendMessage(result, 7, mcp)
	}

	return result, nil
}

// stripToolLists removes the supported_tools and client_supported_tools
// patterns from the settings block and fixes up the settings length byte.
func stripToolLists(data []byte) []byte {
	// Settings tag (0x1a) sits past the Input message; verify the
	// model_config header (0a 21) right behind it.
	settingsPos := -1
	for i := 50; i < len(data)-3; i++ {
		if data[i] == 0x1a && data[i+2] == 0x0a && data[i+3] == 0x21 {
			settingsPos = i
			break
		}
	}
	if settingsPos == -1 {
		return data
	}

	result := append([]byte(nil), data...)
	removed := 0
	for _, pattern := range [][]byte{supportedToolsPattern, clientSupportedToolsPattern} {
		if pos := bytes.Index(result, pattern); pos != -1 {
			result = append(result[:pos], result[pos+len(pattern):]...)
			removed += len(pattern)
		}
	}
	if removed > 0 {
		result[settingsPos+1] -= byte(removed)
	}
	return result
}
