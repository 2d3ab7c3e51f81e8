package api

import "github.com/gin-gonic/gin"

// Machine-readable failure codes returned in error bodies
const (
	codeInvalidBody        = "invalid_body"
	codeValidationFailed   = "validation_failed"
	codeEmailInUse         = "email_in_use"
	codeInvalidCredentials = "invalid_credentials"
	codeNotVerified        = "not_verified"
	codeNotAuthorized      = "not_authorized"
	codeNotFound           = "not_found"
	codeAlreadyVerified    = "already_verified"
	codeMissingField       = "missing_field"
	codeInternalError      = "internal_error"
)

// fail writes the uniform error body: a machine-readable code, a
// human message and the request ID. Nothing else ever leaks.
func fail(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error":     code,
		"message":   message,
		"requestID": c.GetString("requestID"),
	})
}

func internalError(c *gin.Context) {
	fail(c, 500, codeInternalError, "Internal server error")
}
