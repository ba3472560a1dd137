package web

import (
	"fmt"

	"loxodon/util"

	"github.com/gin-gonic/gin"
)

// NodeInfo is the nodeinfo 2.0 document
type NodeInfo struct {
	Version           string                 `json:"version"`
	Software          NodeInfoSoftware       `json:"software"`
	Protocols         []string               `json:"protocols"`
	Services          NodeInfoServices       `json:"services"`
	OpenRegistrations bool                   `json:"openRegistrations"`
	Usage             NodeInfoUsage          `json:"usage"`
	Metadata          map[string]interface{} `json:"metadata"`
}

type NodeInfoSoftware struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type NodeInfoServices struct {
	Outbound []string `json:"outbound"`
	Inbound  []string `json:"inbound"`
}

type NodeInfoUsage struct {
	Users NodeInfoUsageUsers `json:"users"`
}

type NodeInfoUsageUsers struct {
	Total int `json:"total"`
}

// HandleNodeinfoDiscovery serves the well-known nodeinfo pointer
func (s *Server) HandleNodeinfoDiscovery(c *gin.Context) {
	c.JSON(200, gin.H{
		"links": []gin.H{
			{
				"rel":  "http://nodeinfo.diaspora.software/ns/schema/2.0",
				"href": fmt.Sprintf("https://%s/nodeinfo/2.0", s.conf.Conf.Domain),
			},
		},
	})
}

// HandleNodeinfo serves the nodeinfo 2.0 document
func (s *Server) HandleNodeinfo(c *gin.Context) {
	err, total := s.database.CountLocalActors()
	if err != nil {
		total = 0
	}

	c.JSON(200, NodeInfo{
		Version: "2.0",
		Software: NodeInfoSoftware{
			Name:    util.Name,
			Version: util.GetVersion(),
		},
		Protocols: []string{"activitypub"},
		Services: NodeInfoServices{
			Outbound: []string{},
			Inbound:  []string{},
		},
		OpenRegistrations: false,
		Usage: NodeInfoUsage{
			Users: NodeInfoUsageUsers{Total: total},
		},
		Metadata: map[string]interface{}{
			"openFederation": s.conf.Conf.OpenFederation,
		},
	})
}
