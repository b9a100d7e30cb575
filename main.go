package main

import (
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"docval-backend/ask"
	"docval-backend/export"
	"docval-backend/openai"
)

var defaultOrigins = []string{
	"http://localhost:5173",
	"http://localhost:3000",
}

// corsMiddleware enforces a fixed origin allow-list. Requests without an
// Origin header (curl, health probes) pass through untouched.
func corsMiddleware(allowed []string) gin.HandlerFunc {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o = strings.TrimSpace(o); o != "" {
			set[o] = struct{}{}
		}
	}
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" {
			if _, ok := set[origin]; !ok {
				c.AbortWithStatus(http.StatusForbidden)
				return
			}
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func parseOrigins(v string) []string {
	if v == "" {
		return defaultOrigins
	}
	return strings.Split(v, ",")
}

func main() {
	_ = godotenv.Load() // load .env if present

	uploadDir := os.Getenv("UPLOAD_DIR")
	if uploadDir == "" {
		uploadDir = "./tmp"
	}
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		log.Fatalf("cannot create upload dir %s: %v", uploadDir, err)
	}

	origins := parseOrigins(os.Getenv("ALLOWED_ORIGINS"))

	ai := openai.NewClient()

	r := gin.Default()
	r.Use(corsMiddleware(origins))

	r.POST("/api/ask", ask.NewHandler(ai, uploadDir).Ask)
	r.POST("/api/export", export.NewHandler(ai).Export)
	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	r.Run(":" + port)
}
