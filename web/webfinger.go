package web

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"
)

// HandleWebfinger answers acct: lookups for local actors
func (s *Server) HandleWebfinger(c *gin.Context) {
	resource := c.Query("resource")
	if !strings.HasPrefix(resource, "acct:") {
		c.JSON(400, gin.H{"error": "Unsupported resource"})
		return
	}

	acct := strings.TrimPrefix(resource, "acct:")
	parts := strings.SplitN(acct, "@", 2)
	if len(parts) != 2 || parts[1] != s.conf.Conf.Domain {
		c.Status(404)
		return
	}

	err, result := s.GetWebfinger(parts[0])
	c.Header("Content-Type", "application/jrd+json; charset=utf-8")
	if err != nil {
		c.Render(404, render.String{Format: result})
		return
	}
	c.Render(200, render.String{Format: result})
}

func (s *Server) GetWebfinger(user string) (error, string) {

	err, actor := s.database.ReadLocalActorByName(user)
	if err != nil || actor == nil {
		return fmt.Errorf("actor not found"), GetWebFingerNotFound()
	}

	return nil, fmt.Sprintf(
		`{
					"subject": "acct:%s@%s",

					"links": [
						{
							"rel": "self",
							"type": "application/activity+json",
							"href": "%s"
						}
					]
				}`, actor.PreferredName, s.conf.Conf.Domain, actor.URL)
}

func GetWebFingerNotFound() string {
	return `{"detail":"Not Found"}`
}
