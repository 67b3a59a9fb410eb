package middleware

var WithKeyPrefix = setKeyPrefix
