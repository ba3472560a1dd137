package activitypub

// PublicAudienceURI is the ActivityStreams collection meaning "everyone"
const PublicAudienceURI = "https://www.w3.org/ns/activitystreams#Public"

// Audience holds the to/cc recipient scope of an outbound activity
type Audience struct {
	To []string
	CC []string
}

// BuildAudience computes the recipient scope for an outgoing activity.
// Public activities address the public collection and cc the followers
// collection. Anything non-public gets empty to/cc and is delivered
// unicast-only to explicitly named recipients, never broadcast; peers
// rely on this distinction to decide whether to re-announce.
func BuildAudience(followersURI string, isPublic bool) Audience {
	if !isPublic {
		return Audience{To: []string{}, CC: []string{}}
	}
	return Audience{
		To: []string{PublicAudienceURI},
		CC: []string{followersURI},
	}
}
