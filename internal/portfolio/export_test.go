package portfolio

// LockEntries reports how many per-portfolio write locks are tracked.
func (s *Service) LockEntries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}
