package resource

import "slices"

// Scope is the set of accounts, regions and resource types to discover.
type Scope struct {
	Accounts      []Account `json:"accounts" yaml:"accounts"`
	Regions       []Region  `json:"regions" yaml:"regions"`
	ResourceTypes []string  `json:"resource_types" yaml:"resource_types"`
}

// ScopeDelta is the difference between two scopes.
type ScopeDelta struct {
	AddedAccounts   []Account
	RemovedAccounts []Account
	AddedRegions    []Region
	RemovedRegions  []Region
	AddedTypes      []string
	RemovedTypes    []string
}

// IsEmpty reports whether the scope selects nothing.
func (s Scope) IsEmpty() bool {
	return len(s.Accounts) == 0 || len(s.Regions) == 0 || len(s.ResourceTypes) == 0
}

// AddAccount adds an account unless it is already present.
func (s *Scope) AddAccount(a Account) bool {
	if s.HasAccount(a.ID) {
		return false
	}
	s.Accounts = append(s.Accounts, a)
	return true
}

// RemoveAccount removes an account by id.
func (s *Scope) RemoveAccount(id string) bool {
	n := len(s.Accounts)
	s.Accounts = slices.DeleteFunc(s.Accounts, func(a Account) bool { return a.ID == id })
	return len(s.Accounts) != n
}

// HasAccount reports whether the account id is in scope.
func (s Scope) HasAccount(id string) bool {
	return slices.ContainsFunc(s.Accounts, func(a Account) bool { return a.ID == id })
}

// AddRegion adds a region unless it is already present.
func (s *Scope) AddRegion(r Region) bool {
	if s.HasRegion(r.Code) {
		return false
	}
	s.Regions = append(s.Regions, r)
	return true
}

// RemoveRegion removes a region by code.
func (s *Scope) RemoveRegion(code string) bool {
	n := len(s.Regions)
	s.Regions = slices.DeleteFunc(s.Regions, func(r Region) bool { return r.Code == code })
	return len(s.Regions) != n
}

// HasRegion reports whether the region code is in scope.
func (s Scope) HasRegion(code string) bool {
	return slices.ContainsFunc(s.Regions, func(r Region) bool { return r.Code == code })
}

// AddResourceType adds a resource type unless it is already present.
func (s *Scope) AddResourceType(t string) bool {
	if slices.Contains(s.ResourceTypes, t) {
		return false
	}
	s.ResourceTypes = append(s.ResourceTypes, t)
	return true
}

// RemoveResourceType removes a resource type.
func (s *Scope) RemoveResourceType(t string) bool {
	n := len(s.ResourceTypes)
	s.ResourceTypes = slices.DeleteFunc(s.ResourceTypes, func(x string) bool { return x == t })
	return len(s.ResourceTypes) != n
}

// Clone returns an independent copy of the scope.
func (s Scope) Clone() Scope {
	return Scope{
		Accounts:      slices.Clone(s.Accounts),
		Regions:       slices.Clone(s.Regions),
		ResourceTypes: slices.Clone(s.ResourceTypes),
	}
}

// Apply returns the scope with the delta applied.
func (s Scope) Apply(d ScopeDelta) Scope {
	out := s.Clone()
	for _, a := range d.RemovedAccounts {
		out.RemoveAccount(a.ID)
	}
	for _, r := range d.RemovedRegions {
		out.RemoveRegion(r.Code)
	}
	for _, t := range d.RemovedTypes {
		out.RemoveResourceType(t)
	}
	for _, a := range d.AddedAccounts {
		out.AddAccount(a)
	}
	for _, r := range d.AddedRegions {
		out.AddRegion(r)
	}
	for _, t := range d.AddedTypes {
		out.AddResourceType(t)
	}
	return out
}

// Diff computes the delta that turns old into next.
func Diff(old, next Scope) ScopeDelta {
	var d ScopeDelta
	for _, a := range next.Accounts {
		if !old.HasAccount(a.ID) {
			d.AddedAccounts = append(d.AddedAccounts, a)
		}
	}
	for _, a := range old.Accounts {
		if !next.HasAccount(a.ID) {
			d.RemovedAccounts = append(d.RemovedAccounts, a)
		}
	}
	for _, r := range next.Regions {
		if !old.HasRegion(r.Code) {
			d.AddedRegions = append(d.AddedRegions, r)
		}
	}
	for _, r := range old.Regions {
		if !next.HasRegion(r.Code) {
			d.RemovedRegions = append(d.RemovedRegions, r)
		}
	}
	for _, t := range next.ResourceTypes {
		if !slices.Contains(old.ResourceTypes, t) {
			d.AddedTypes = append(d.AddedTypes, t)
		}
	}
	for _, t := range old.ResourceTypes {
		if !slices.Contains(next.ResourceTypes, t) {
			d.RemovedTypes = append(d.RemovedTypes, t)
		}
	}
	return d
}

// IsEmpty reports whether the delta changes nothing.
func (d ScopeDelta) IsEmpty() bool {
	return len(d.AddedAccounts)+len(d.RemovedAccounts)+len(d.AddedRegions)+
		len(d.RemovedRegions)+len(d.AddedTypes)+len(d.RemovedTypes) == 0
}

// Keys expands the scope into query keys. Types for which isGlobal returns
// true collapse to a single key per account in GlobalRegion.
func (s Scope) Keys(isGlobal func(resourceType string) bool) []QueryKey {
	seen := make(map[QueryKey]struct{})
	var keys []QueryKey
	add := func(k QueryKey) {
		if _, ok := seen[k]; ok {
			return
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}

	for _, a := range s.Accounts {
		for _, t := range s.ResourceTypes {
			if isGlobal != nil && isGlobal(t) {
				if len(s.Regions) > 0 {
					add(QueryKey{AccountID: a.ID, Region: GlobalRegion, ResourceType: t})
				}
				continue
			}
			for _, r := range s.Regions {
				add(QueryKey{AccountID: a.ID, Region: r.Code, ResourceType: t})
			}
		}
	}
	return keys
}

// Contains reports whether the key is produced by the scope.
func (s Scope) Contains(k QueryKey, isGlobal func(resourceType string) bool) bool {
	if !s.HasAccount(k.AccountID) || !slices.Contains(s.ResourceTypes, k.ResourceType) {
		return false
	}
	if isGlobal != nil && isGlobal(k.ResourceType) {
		return k.Region == GlobalRegion && len(s.Regions) > 0
	}
	return s.HasRegion(k.Region)
}
