package recorder

import (
	"bufio"
	"bytes"
	"encoding/json"
	"testing"

	"github.com/mirrorctl/mirrorctl/internal/types"
)

func TestJSONLRecorderWritesOneLinePerExchange(t *testing.T) {
	var buf bytes.Buffer
	r := NewJSONLRecorder(&buf)

	req, err := types.NewRequest("https://example.com/page")
	if err != nil {
		t.Fatal(err)
	}
	r.PreRequest(req)
	r.Response(req, &types.Response{StatusCode: 200}, nil)

	req2, _ := types.NewRequest("https://example.com/missing")
	r.PreRequest(req2)
	r.Response(req2, nil, errTest{})

	scanner := bufio.NewScanner(&buf)
	var lines int
	for scanner.Scan() {
		var entry jsonlEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			t.Fatalf("unmarshal line %d: %v", lines, err)
		}
		lines++
	}
	if lines != 2 {
		t.Fatalf("lines = %d, want 2", lines)
	}
}

type errTest struct{}

func (errTest) Error() string { return "boom" }
