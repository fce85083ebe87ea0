package command

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestParse_Empty(t *testing.T) {
	result := Parse("")
	assert.False(t, result.IsCommand)
	assert.Equal(t, "", result.Raw)
}

func TestParse_PlainText(t *testing.T) {
	result := Parse("  hello there  ")
	assert.False(t, result.IsCommand)
	assert.Equal(t, "hello there", result.Raw)
	assert.Equal(t, "", result.Command)
}

func TestParse_CommandWithoutArg(t *testing.T) {
	result := Parse("/create")
	assert.True(t, result.IsCommand)
	assert.Equal(t, "create", result.Command)
	assert.False(t, result.HasArg)
}

func TestParse_CommandWithArg(t *testing.T) {
	result := Parse("/join ab12cd")
	assert.Equal(t, "join", result.Command)
	assert.True(t, result.HasArg)
	assert.Equal(t, "ab12cd", result.Arg)
}

func TestParse_ArgKeepsInnerSpacing(t *testing.T) {
	result := Parse("/name  Big   Bob ")
	assert.Equal(t, "name", result.Command)
	assert.Equal(t, "Big   Bob", result.Arg)
	assert.Equal(t, "/name  Big   Bob", result.Raw)
}

func TestParse_TrailingSpaceIsNoArg(t *testing.T) {
	result := Parse("/join   ")
	assert.Equal(t, "join", result.Command)
	assert.False(t, result.HasArg)
}

func TestParse_Lowercase(t *testing.T) {
	result := Parse("/JOIN ABC")
	assert.Equal(t, "join", result.Command)
	assert.Equal(t, "ABC", result.Arg)
}

func TestParse_BarePrefix(t *testing.T) {
	result := Parse("/")
	assert.True(t, result.IsCommand)
	assert.Equal(t, "", result.Command)
}

func TestReplies(t *testing.T) {
	assert.Equal(t, "/redirectab12cd", Redirect("ab12cd"))
	assert.Equal(t, `!!! unknown command: "/dance now"`, UnknownCommand("/dance now"))
}

func TestPropertyParseCommandIsLowercase(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		word := rapid.StringMatching(`[A-Za-z]{1,20}`).Draw(t, "word")
		result := Parse("/" + word)
		if result.Command != strings.ToLower(word) {
			t.Fatalf("Parse(%q).Command = %q", "/"+word, result.Command)
		}
	})
}

func TestPropertyParseArgRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		cmd := rapid.StringMatching(`[a-z]{1,10}`).Draw(t, "cmd")
		arg := rapid.StringMatching(`[a-z0-9]{1,10}( [a-z0-9]{1,10}){0,3}`).Draw(t, "arg")
		result := Parse("/" + cmd + " " + arg)
		if !result.HasArg || result.Arg != arg {
			t.Fatalf("arg %q parsed as %q (has=%v)", arg, result.Arg, result.HasArg)
		}
	})
}

func TestPropertyPlainTextIsNeverCommand(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		text := rapid.StringMatching(`[a-zA-Z0-9][a-zA-Z0-9 /]{0,30}`).Draw(t, "text")
		if Parse(text).IsCommand {
			t.Fatalf("%q parsed as a command", text)
		}
	})
}
