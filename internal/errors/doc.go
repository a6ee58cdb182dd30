// Package errors provides coded errors for fatal startup conditions.
//
// Every error that stops the process before it serves traffic carries a
// code and a category:
//
//	SM1xx  config       invalid or missing configuration
//	SM2xx  backend      database, cache or log storage failures
//	SM3xx  transport    listener failures
//	SM4xx  application  the hosted application's start hook failed
//
// Usage:
//
//	return errors.New("SM111").WithDetailf("port %d", cfg.Web.Port)
//
// The CLI prints them with PrintError, colored when the terminal allows it.
package errors
