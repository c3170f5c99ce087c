package common

// AuthorizationHeaderName is the HTTP header carrying the bearer token.
const AuthorizationHeaderName = "Authorization"

// TokenType is the OAuth2 token type returned with every access token.
const TokenType = "bearer"
