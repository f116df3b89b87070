package directory

import (
	"fmt"
	"strings"
)

// DepartmentLookup resolves a department by id.
type DepartmentLookup func(id string) (Department, bool)

// ComputePath returns the path for a department named name under parentID.
func ComputePath(name, parentID string, lookup DepartmentLookup) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: department name is required", ErrInvalidInput)
	}
	if strings.Contains(name, "/") {
		return "", fmt.Errorf("%w: department name must not contain '/'", ErrInvalidInput)
	}
	if parentID == "" {
		return name, nil
	}
	parent, ok := lookup(parentID)
	if !ok {
		return "", fmt.Errorf("%w: parent department %s", ErrNotFound, parentID)
	}
	return parent.Path + "/" + name, nil
}

// Reparent moves dept under newParentID and returns every department whose
// path changed: dept itself followed by its descendants, parents before children.
func Reparent(all []Department, deptID, newParentID string) ([]Department, error) {
	byID := make(map[string]Department, len(all))
	children := make(map[string][]string)
	for _, d := range all {
		byID[d.ID] = d
		children[d.ParentID] = append(children[d.ParentID], d.ID)
	}
	dept, ok := byID[deptID]
	if !ok {
		return nil, fmt.Errorf("%w: department %s", ErrNotFound, deptID)
	}
	seen := map[string]bool{deptID: true}
	for cur := newParentID; cur != ""; {
		if seen[cur] {
			return nil, ErrDepartmentCycle
		}
		seen[cur] = true
		p, ok := byID[cur]
		if !ok {
			return nil, fmt.Errorf("%w: department %s", ErrNotFound, cur)
		}
		cur = p.ParentID
	}

	lookup := func(id string) (Department, bool) {
		d, ok := byID[id]
		return d, ok
	}
	dept.ParentID = newParentID
	path, err := ComputePath(dept.Name, newParentID, lookup)
	if err != nil {
		return nil, err
	}
	dept.Path = path
	byID[dept.ID] = dept

	changed := []Department{dept}
	moved := map[string]bool{dept.ID: true}
	queue := append([]string(nil), children[dept.ID]...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if moved[id] {
			return nil, ErrDepartmentCycle
		}
		moved[id] = true
		d := byID[id]
		d.Path = byID[d.ParentID].Path + "/" + d.Name
		byID[id] = d
		changed = append(changed, d)
		queue = append(queue, children[id]...)
	}
	return changed, nil
}
