package vault

import "path"

// RouteAnswered moves every file in agent/inbox/user/answered/ to the inbox
// of the role named in its from header and returns how many were routed.
// Files without a from header, or naming an unregistered role, are logged
// and left where they are so a later poll can retry.
func (s *Store) RouteAnswered(roster Roster) (int, error) {
	answered := s.cfg.AnsweredRel()
	paths, err := s.ListUnarchived(answered)
	if err != nil {
		return 0, err
	}
	logger := s.logger.With("component", "user-routing")
	routed := 0
	for _, rel := range paths {
		name := path.Base(rel)
		text, err := s.Read(rel)
		if err != nil {
			logger.Warn("could not read answered question", "file", name, "err", err)
			continue
		}
		from, ok := ExtractHeaderField(text, "from")
		if !ok || from == "" {
			logger.Warn("no from field, skipping", "file", name)
			continue
		}
		inbox, ok := roster.InboxOf(from)
		if !ok {
			logger.Warn("unknown role, skipping", "file", name, "role", from)
			continue
		}
		if _, err := s.Move(rel, inbox); err != nil {
			logger.Warn("could not route answered question", "file", name, "err", err)
			continue
		}
		logger.Info("routed answered question", "file", name, "inbox", inbox)
		routed++
	}
	return routed, nil
}
