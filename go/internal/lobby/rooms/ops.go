package rooms

// Op is a presentation update emitted by the reconciler.
// The set of variants is closed: AppendRoom, UpdateMembership and RemoveRoom.
type Op interface {
	RoomCode() string
	isOp()
}

// AppendRoom adds a brand-new room row with its join form
type AppendRoom struct {
	Entry RoomEntry
}

// UpdateMembership replaces the rendered roster of a room with exactly Usernames
type UpdateMembership struct {
	Code      string
	Usernames []string
}

// RemoveRoom drops the row of a room
type RemoveRoom struct {
	Code string
}

func (o AppendRoom) RoomCode() string       { return o.Entry.Code }
func (o UpdateMembership) RoomCode() string { return o.Code }
func (o RemoveRoom) RoomCode() string       { return o.Code }

func (AppendRoom) isOp()       {}
func (UpdateMembership) isOp() {}
func (RemoveRoom) isOp()       {}

// Renderer is the rendering collaborator that consumes presentation ops.
// Implementations must treat received slices as read-only snapshots.
type Renderer interface {
	AppendRoom(entry RoomEntry)
	UpdateMembership(code string, usernames []string)
	RemoveRoom(code string)
}

// Dispatch forwards each op to the matching Renderer call
func Dispatch(r Renderer, ops []Op) {
	for _, op := range ops {
		switch o := op.(type) {
		case AppendRoom:
			r.AppendRoom(o.Entry)
		case UpdateMembership:
			r.UpdateMembership(o.Code, o.Usernames)
		case RemoveRoom:
			r.RemoveRoom(o.Code)
		}
	}
}

// Renderers fans ops out to several collaborators in order
type Renderers []Renderer

func (rs Renderers) AppendRoom(entry RoomEntry) {
	for _, r := range rs {
		r.AppendRoom(entry.Clone())
	}
}

func (rs Renderers) UpdateMembership(code string, usernames []string) {
	for _, r := range rs {
		r.UpdateMembership(code, cloneStrings(usernames))
	}
}

func (rs Renderers) RemoveRoom(code string) {
	for _, r := range rs {
		r.RemoveRoom(code)
	}
}
