package failure

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_IsMatchesKindAndCode(t *testing.T) {
	err := At(ForbiddenContent, CodeDeniedWord, 12)
	wrapped := fmt.Errorf("parse: %w", err)

	assert.True(t, errors.Is(wrapped, ErrForbidden))
	assert.True(t, errors.Is(wrapped, &Error{Kind: ForbiddenContent, Code: CodeDeniedWord}))
	assert.False(t, errors.Is(wrapped, &Error{Kind: ForbiddenContent, Code: CodeDepth}))
	assert.False(t, errors.Is(wrapped, ErrNestingTooDeep))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, NestingTooDeep, KindOf(fmt.Errorf("x: %w", New(NestingTooDeep, CodeDepth))))
	assert.Equal(t, Internal, KindOf(errors.New("plain")))
	assert.Equal(t, CodeDepth, CodeOf(New(NestingTooDeep, CodeDepth)))
	assert.Equal(t, Code(""), CodeOf(errors.New("plain")))
}

func TestError_MessageRendering(t *testing.T) {
	err := &Error{Kind: InvalidInput, Code: CodeUnresolvedIssues, Offset: -1, Issues: []string{"unsafe_link_scheme"}}
	assert.Equal(t, "invalid_input: unresolved_issues [unsafe_link_scheme]", err.Error())
	assert.Equal(t, "invalid_parameter", string(CodeInvalidParameter))
	assert.Contains(t, At(InvalidInput, CodeInvalidParameter, 7).Error(), "at offset 7")
}

func TestKind_MessageIsSanitized(t *testing.T) {
	for k := Internal; k <= Overload; k++ {
		msg := k.Message()
		assert.NotEmpty(t, msg)
		assert.False(t, strings.ContainsAny(msg, "/\\"), "kind %s message leaks path-like text", k)
	}
	assert.Equal(t, "internal", Kind(200).String())
}

func TestFromPanic(t *testing.T) {
	err := FromPanic("secret /etc/passwd")
	assert.Equal(t, Internal, err.Kind)
	assert.NotContains(t, err.Error(), "passwd")
}
