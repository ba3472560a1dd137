package web

import (
	"fmt"

	"loxodon/util"
)

// GetActorDocument renders a local actor as an ActivityPub actor document
func (s *Server) GetActorDocument(name string) (error, string) {
	err, actor := s.database.ReadLocalActorByName(name)
	if err != nil || actor == nil {
		return fmt.Errorf("actor %s not found", name), ""
	}

	doc := map[string]interface{}{
		"@context": []string{
			"https://www.w3.org/ns/activitystreams",
			"https://w3id.org/security/v1",
		},
		"id":                actor.URL,
		"type":              "Person",
		"preferredUsername": actor.PreferredName,
		"inbox":             actor.InboxURI,
		"followers":         actor.FollowersURI,
		"endpoints": map[string]interface{}{
			"sharedInbox": fmt.Sprintf("https://%s/inbox", s.conf.Conf.Domain),
		},
		"publicKey": map[string]interface{}{
			"id":           actor.URL + "#main-key",
			"owner":        actor.URL,
			"publicKeyPem": actor.PublicKeyPem,
		},
	}

	return nil, util.PrettyPrint(doc)
}

// GetFollowersCollection renders the follower count of a local actor as
// a count-only ActivityPub collection
func (s *Server) GetFollowersCollection(name string) (error, string) {
	err, actor := s.database.ReadLocalActorByName(name)
	if err != nil || actor == nil {
		return fmt.Errorf("actor %s not found", name), ""
	}

	err, count := s.database.CountFollowers(actor.Id)
	if err != nil {
		return err, ""
	}

	collection := map[string]interface{}{
		"@context":   "https://www.w3.org/ns/activitystreams",
		"id":         actor.FollowersURI,
		"type":       "OrderedCollection",
		"totalItems": count,
	}

	return nil, util.PrettyPrint(collection)
}

// LocalActorURL builds the canonical URL of a local actor
func LocalActorURL(conf *util.AppConfig, name string) string {
	return fmt.Sprintf("https://%s/users/%s", conf.Conf.Domain, name)
}
