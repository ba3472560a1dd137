package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"loxodon/activitypub"
	"loxodon/util"

	"github.com/gorilla/feeds"
)

const feedItemLimit = 50

// GetFeed renders the most recent federated posts as RSS
func (s *Server) GetFeed() (string, error) {

	err, records := s.database.ReadRecentActivities(feedItemLimit)
	if err != nil || records == nil {
		log.Println("Could not get recent activities!", err)
		return "", errors.New("error retrieving activities")
	}

	link := fmt.Sprintf("https://%s/feed", s.conf.Conf.Domain)

	feed := &feeds.Feed{
		Title:       fmt.Sprintf("%s - federated posts", util.Name),
		Link:        &feeds.Link{Href: link},
		Description: fmt.Sprintf("recent posts federated through %s", s.conf.Conf.Domain),
		Created:     time.Now(),
	}

	var feedItems []*feeds.Item
	for _, record := range *records {
		var activity activitypub.Activity
		if err := json.Unmarshal([]byte(record.RawJSON), &activity); err != nil {
			continue
		}

		var object struct {
			Content string `json:"content"`
		}
		if len(activity.Object) > 0 {
			json.Unmarshal(activity.Object, &object)
		}

		feedItems = append(feedItems,
			&feeds.Item{
				Id:      record.ActivityURI,
				Title:   record.CreatedAt.Format(time.RFC1123),
				Link:    &feeds.Link{Href: record.ObjectURI},
				Content: object.Content,
				Author:  &feeds.Author{Name: record.ActorURI},
				Created: record.CreatedAt,
			})
	}

	feed.Items = feedItems
	return feed.ToRss()
}
