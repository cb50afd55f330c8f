package grid

import (
	"strconv"
	"strings"
)

// SortState is a parsed _order value
type SortState struct {
	ColumnID string
	Order    Order
}

// ActionRequest is a mass action selected by the request
type ActionRequest struct {
	Index          int
	PrimaryKeys    []string
	AllPrimaryKeys bool
}

// State is the outcome of reconciling one request. Columns holds the
// normalized data per column id; columns without data are absent.
type State struct {
	Columns map[string]Value
	Limit   int
	Page    int
	Sort    *SortState
	Action  *ActionRequest
}

// ReconcileInput is the immutable input of Reconcile
type ReconcileInput struct {
	Hash    string
	Params  Params
	Session Bucket
	Columns *Columns
	// Limit and Page are kept when neither request nor session set them
	Limit int
	Page  int
}

// Reconcile resolves every column's data plus limit, page, order and the
// requested mass action. For each key a raw top-level parameter wins over
// the namespaced request bucket, which wins over the session. A truthy raw
// parameter for any column turns the session off for all column data.
//
// Reconcile does not touch the columns or the session; the caller applies
// the returned state and patch.
func Reconcile(in ReconcileInput) (State, Patch, error) {
	state := State{
		Columns: map[string]Value{},
		Limit:   in.Limit,
		Page:    in.Page,
	}
	var patch Patch

	columns := in.Columns.All()

	useSession := true
	for _, col := range columns {
		if v, ok := in.Params.Raw(col.ID()); ok && v.Truthy() {
			useSession = false
			break
		}
	}

	for _, col := range columns {
		raw, _ := in.lookup(col.ID(), true, useSession)
		data, err := col.normalize(col.Data(), raw)
		if err != nil {
			return State{}, Patch{}, err
		}
		if data.IsZero() {
			patch.unset(col.ID())
			continue
		}
		state.Columns[col.ID()] = data
		patch.set(col.ID(), data)
	}

	if v, ok := in.lookup(KeyLimit, true, true); ok && v.Truthy() {
		limit, err := strconv.Atoi(strings.TrimSpace(v.String))
		if err != nil || limit < 0 {
			return State{}, Patch{}, errorf(ErrInvalidData, "Grid.SetLimit", "Limit has to be a positive number, got %q", v.String)
		}
		state.Limit = limit
	}

	if v, ok := in.lookup(KeyPage, true, true); ok && v.Truthy() {
		page, err := parsePage(v.String)
		if err != nil {
			return State{}, Patch{}, err
		}
		state.Page = page
	}

	if v, ok := in.lookup(KeyOrder, true, true); ok && v.String != "" {
		sort, err := parseSort(in.Columns, v.String)
		if err != nil {
			return State{}, Patch{}, err
		}
		state.Sort = sort
		patch.set(KeyOrder, v)
	}

	if state.Limit >= 0 {
		patch.set(KeyLimit, StringValue(strconv.Itoa(state.Limit)))
	}
	if state.Page >= 0 {
		patch.set(KeyPage, StringValue(strconv.Itoa(state.Page)))
	}

	action, err := in.action()
	if err != nil {
		return State{}, Patch{}, err
	}
	state.Action = action

	return state, patch, nil
}

// lookup applies the precedence rules to one key
func (in ReconcileInput) lookup(key string, fromRequest, fromSession bool) (Value, bool) {
	var (
		result Value
		found  bool
	)

	if fromSession {
		if v, ok := in.Session[key]; ok {
			result, found = v, true
		}
	}

	if !fromRequest {
		return result, found
	}

	if v, ok := in.Params.Bucket(in.Hash)[key]; ok {
		result, found = v, true
	}

	if v, ok := in.Params.Raw(key); ok {
		if col := in.Columns.ByIDOrNil(key); col != nil && len(v.List) == 0 &&
			(col.Kind() == KindSelect || col.Kind() == KindBoolean) {
			v = ListValue(splitList(v.String)...)
		}
		result, found = v, true
	}

	return result, found
}

// action reads the mass action fields; they only ever come from the request
func (in ReconcileInput) action() (*ActionRequest, error) {
	v, ok := in.lookup(KeyActionID, true, false)
	if !ok || strings.TrimSpace(v.String) == "" {
		return nil, nil
	}
	index, err := strconv.Atoi(strings.TrimSpace(v.String))
	if err != nil {
		return nil, errorf(ErrInvalidData, "Grid.executeMassAction", "Action %s is not defined.", v.String)
	}
	if index < 0 {
		return nil, nil
	}

	all, _ := in.lookup(KeyActionAllKeys, true, false)
	req := &ActionRequest{Index: index, AllPrimaryKeys: all.Truthy(), PrimaryKeys: []string{}}
	if req.AllPrimaryKeys {
		return req, nil
	}

	keys, ok := in.lookup(MassActionColumnID, true, false)
	switch {
	case !ok:
		return nil, nil
	case len(keys.Map) > 0:
		req.PrimaryKeys = keys.MapKeys()
	case len(keys.List) > 0:
		req.PrimaryKeys = dedup(keys.List)
	default:
		return nil, nil
	}
	return req, nil
}

func parsePage(s string) (int, error) {
	page, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || page <= 0 {
		return 0, errorf(ErrInvalidData, "Grid.SetPage", "Page has to have a positive number")
	}
	return page, nil
}

func parseSort(columns *Columns, raw string) (*SortState, error) {
	id, dir, ok := strings.Cut(raw, "|")
	if !ok {
		return nil, errorf(ErrInvalidData, "Grid.SetOrder", "order %q has to look like <column>|<asc|desc>", raw)
	}
	col, err := columns.ByID(id)
	if err != nil {
		return nil, err
	}
	order, err := ParseOrder(dir)
	if err != nil {
		return nil, err
	}
	return &SortState{ColumnID: col.ID(), Order: order}, nil
}
