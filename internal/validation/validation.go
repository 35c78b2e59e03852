// Package validation checks API input: URL parameters, request bodies and
// the field formats the ledger accepts.
package validation

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/assetwatch/internal/pol"
)

const (
	// MaxRequestSize caps request bodies at 64KB.
	MaxRequestSize = 64 << 10
	// MaxReasonLength bounds free-text fields that end up in ledger calldata.
	MaxReasonLength = 256
)

var (
	addressPattern = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
	txHashPattern  = regexp.MustCompile(`^0x[a-fA-F0-9]{64}$`)
)

func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidEthAddress requires the 0x prefix and 40 hex digits; checksum case
// is not enforced.
func IsValidEthAddress(addr string) bool {
	return addressPattern.MatchString(addr)
}

func IsValidTxHash(h string) bool {
	return txHashPattern.MatchString(h)
}

// SanitizeString trims whitespace, strips NUL bytes and limits length.
func SanitizeString(s string, maxLen int) string {
	s = strings.ReplaceAll(strings.TrimSpace(s), "\x00", "")
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return s
}

// FieldError is one rejected field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Errors collects every rejected field of a request.
type Errors []FieldError

func (e Errors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Rule checks one field. It returns nil when the field is acceptable.
type Rule func() *FieldError

// Validate runs every rule and collects the failures.
func Validate(rules ...Rule) Errors {
	var errs Errors
	for _, rule := range rules {
		if fe := rule(); fe != nil {
			errs = append(errs, *fe)
		}
	}
	return errs
}

// Reject writes errs as a 400 response. It reports whether anything was
// written, so handlers can write `if validation.Reject(c, errs) { return }`.
func Reject(c *gin.Context, errs Errors) bool {
	if len(errs) == 0 {
		return false
	}
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "validation_error",
		"message": errs.Error(),
		"details": errs,
	})
	return true
}

func Required(field, value string) Rule {
	return func() *FieldError {
		if strings.TrimSpace(value) == "" {
			return &FieldError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// optional wraps a format check so that empty values pass; pair it with
// Required when the field is mandatory.
func optional(field, value, message string, ok func(string) bool) Rule {
	return func() *FieldError {
		if value == "" || ok(value) {
			return nil
		}
		return &FieldError{Field: field, Message: message}
	}
}

func ValidAddress(field, value string) Rule {
	return optional(field, value, "must be a valid Ethereum address (0x...)", IsValidEthAddress)
}

func ValidTxHash(field, value string) Rule {
	return optional(field, value, "must be a 0x-prefixed 32-byte transaction hash", IsValidTxHash)
}

// ValidPOLAmount checks a decimal POL amount. Zero is allowed.
func ValidPOLAmount(field, value string) Rule {
	return optional(field, value, "invalid POL amount", func(s string) bool {
		_, ok := pol.Parse(s)
		return ok
	})
}

// ValidWei checks a base-10 non-negative integer wei amount.
func ValidWei(field, value string) Rule {
	return optional(field, value, "must be a non-negative integer wei amount", func(s string) bool {
		_, ok := pol.ParseWei(s)
		return ok
	})
}

// AddressParamMiddleware rejects a malformed :address URL parameter early.
func AddressParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if addr := c.Param("address"); addr != "" && !IsValidEthAddress(addr) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_address",
				"message": "address must be a valid Ethereum address (0x + 40 hex chars)",
			})
			return
		}
		c.Next()
	}
}

// AssetID parses the :id URL parameter. On failure it writes a 400 and
// returns false.
func AssetID(c *gin.Context) (uint64, bool) {
	id, err := ParseAssetID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_asset_id",
			"message": "asset id must be a non-negative integer",
		})
		return 0, false
	}
	return id, true
}

func ParseAssetID(s string) (uint64, error) {
	return strconv.ParseUint(strings.TrimSpace(s), 10, 64)
}
