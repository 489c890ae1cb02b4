package memory

import (
	"context"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var (
	namePatterns = []*regexp.Regexp{
		regexp.MustCompile(`my name is (\w+)`),
		regexp.MustCompile(`i'm (\w+)`),
		regexp.MustCompile(`call me (\w+)`),
		regexp.MustCompile(`i am (\w+)`),
	}
	jobPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)i work as (?:a |an )?(.+?)(?:\.|,|$)`),
		regexp.MustCompile(`(?i)i'm (?:a |an )?(.+?) (?:at|in|for)`),
		regexp.MustCompile(`(?i)my job is (.+?)(?:\.|,|$)`),
	}
)

// ExtractProfile returns the name and job facts found in a user message.
// Name patterns match the lower-cased message; job patterns keep the
// original casing.
func ExtractProfile(message string) Profile {
	found := Profile{}

	lower := strings.ToLower(message)
	for _, re := range namePatterns {
		if m := re.FindStringSubmatch(lower); m != nil && m[1] != "" {
			found["name"] = m[1]
			break
		}
	}
	for _, re := range jobPatterns {
		if m := re.FindStringSubmatch(message); m != nil {
			if job := strings.TrimSpace(m[1]); job != "" {
				found["job"] = job
				break
			}
		}
	}
	return found
}

// UpdateProfile merges facts extracted from message into the stored profile.
// Nothing is written when the message yields no facts.
func (s *Service) UpdateProfile(ctx context.Context, userID, personaID uuid.UUID, message string) (Profile, error) {
	found := ExtractProfile(message)
	if len(found) == 0 {
		return nil, nil
	}

	profile, err := s.Profile(ctx, userID, personaID)
	if err != nil {
		return nil, err
	}
	for k, v := range found {
		profile[k] = v
	}
	if err := s.Upsert(ctx, userID, personaID, TypeProfile, profile); err != nil {
		return nil, err
	}
	return profile, nil
}
