package middlewares

import (
	"errors"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"tourbook/src/types"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
)

var jwtKey = []byte(os.Getenv("JWT_SECRET"))

// SetJWTKey replaces the signing key read from JWT_SECRET.
func SetJWTKey(key []byte) {
	jwtKey = key
}

// AuthMiddleware accepts HS256 tokens issued by the auth service. The
// subject is the numeric user id.
func AuthMiddleware(ctx *gin.Context) {
	bearerToken := ctx.Request.Header.Get("Authorization")
	reqToken, ok := strings.CutPrefix(bearerToken, "Bearer ")
	if !ok || reqToken == "" {
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	claims := &types.Claims{}
	tkn, err := jwt.ParseWithClaims(reqToken, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return jwtKey, nil
	})
	if err != nil || !tkn.Valid {
		if err != nil {
			log.Printf("token error: %s\n", err.Error())
		}
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	uid, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil || uid == 0 {
		log.Printf("Invalid token subject %q\n", claims.Subject)
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	ctx.Set("id", uint(uid))
	ctx.Set("role", claims.Role)
}

func AdminOnly(ctx *gin.Context) {
	if ctx.GetString("role") != types.ROLE_ADMIN {
		ctx.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
		return
	}
}
