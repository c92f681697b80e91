package validation

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "hello", SanitizeString("  hello  ", 100))
	assert.Equal(t, "ab", SanitizeString("a\x00b", 100))
	assert.Equal(t, "при", SanitizeString("привет", 3))
}

func TestValidate_CollectsAll(t *testing.T) {
	errs := Validate(
		Required("title", " "),
		MaxLength("category", strings.Repeat("x", 65), 64),
		ValidAmount("price", "-5"),
		ValidAmount("price", "5"),
		OneOf("decision", "split", "refund", "pay_seller"),
		OneOf("decision", "refund", "refund", "pay_seller"),
	)

	assert.Len(t, errs, 4)
	assert.Equal(t, "title: is required", errs.Error())
	assert.Equal(t, "decision", errs[3].Field)
}

func TestValidAmount(t *testing.T) {
	tests := []struct {
		value string
		ok    bool
	}{
		{"", true},
		{"50", true},
		{"49.99", true},
		{"0", false},
		{"0.001", false},
		{"1e3x", false},
		{"-1", false},
	}
	for _, tt := range tests {
		err := ValidAmount("amount", tt.value)()
		assert.Equal(t, tt.ok, err == nil, "ValidAmount(%q)", tt.value)
	}
}

func TestValidDelta(t *testing.T) {
	assert.Nil(t, ValidDelta("delta", "-25.50")())
	assert.NotNil(t, ValidDelta("delta", "0")())
	assert.NotNil(t, ValidDelta("delta", "ten")())
}

func TestRespond(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	assert.False(t, Respond(c, nil))
	assert.True(t, Respond(c, ValidationErrors{{Field: "text", Message: "is required"}}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"validation_error"`)
}

func TestRequestSizeMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestSizeMiddleware(16))
	r.POST("/", func(c *gin.Context) {
		var body map[string]any
		if err := c.ShouldBindJSON(&body); err != nil {
			c.Status(http.StatusRequestEntityTooLarge)
			return
		}
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{"a":"`+strings.Repeat("x", 64)+`"}`)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}
