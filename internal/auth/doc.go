// Package auth guards the gateway's operational endpoints.
//
// MCP endpoints are addressed by path (/mcp/{tenant}/{principal}) and do not
// use this package. The session status and cleanup endpoints do: when
// auth.jwt_secret is configured they require
//
//	Authorization: Bearer <token>
//
// where the token is an HS256 JWT issued by this gateway (iss
// "ewelink-gateway") whose sub is an active global administrator. The
// bootstrap command issues the first such token.
package auth
