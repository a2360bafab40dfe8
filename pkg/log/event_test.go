package log

import "testing"

func TestDirectionString(t *testing.T) {
	tests := []struct {
		dir  Direction
		want string
	}{
		{DirectionIn, "IN"},
		{DirectionOut, "OUT"},
		{Direction(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		got := tt.dir.String()
		if got != tt.want {
			t.Errorf("Direction(%d).String() = %q, want %q", tt.dir, got, tt.want)
		}
	}
}

func TestCategoryString(t *testing.T) {
	tests := []struct {
		cat  Category
		want string
	}{
		{CategoryHandshake, "HANDSHAKE"},
		{CategoryFrame, "FRAME"},
		{CategoryControl, "CONTROL"},
		{CategoryState, "STATE"},
		{CategoryError, "ERROR"},
		{Category(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		got := tt.cat.String()
		if got != tt.want {
			t.Errorf("Category(%d).String() = %q, want %q", tt.cat, got, tt.want)
		}
	}
}

func TestStateEntityString(t *testing.T) {
	tests := []struct {
		entity StateEntity
		want   string
	}{
		{StateEntitySession, "SESSION"},
		{StateEntityListener, "LISTENER"},
		{StateEntity(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		got := tt.entity.String()
		if got != tt.want {
			t.Errorf("StateEntity(%d).String() = %q, want %q", tt.entity, got, tt.want)
		}
	}
}

func TestControlTypeString(t *testing.T) {
	tests := []struct {
		ct   ControlType
		want string
	}{
		{ControlPing, "PING"},
		{ControlPong, "PONG"},
		{ControlClose, "CLOSE"},
		{ControlType(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		got := tt.ct.String()
		if got != tt.want {
			t.Errorf("ControlType(%d).String() = %q, want %q", tt.ct, got, tt.want)
		}
	}
}

func TestDirectionValues(t *testing.T) {
	// Verify explicit values for wire stability
	if DirectionIn != 0 {
		t.Errorf("DirectionIn = %d, want 0", DirectionIn)
	}
	if DirectionOut != 1 {
		t.Errorf("DirectionOut = %d, want 1", DirectionOut)
	}
}

func TestCategoryValues(t *testing.T) {
	// Verify explicit values for wire stability
	if CategoryHandshake != 0 {
		t.Errorf("CategoryHandshake = %d, want 0", CategoryHandshake)
	}
	if CategoryFrame != 1 {
		t.Errorf("CategoryFrame = %d, want 1", CategoryFrame)
	}
	if CategoryControl != 2 {
		t.Errorf("CategoryControl = %d, want 2", CategoryControl)
	}
	if CategoryState != 3 {
		t.Errorf("CategoryState = %d, want 3", CategoryState)
	}
	if CategoryError != 4 {
		t.Errorf("CategoryError = %d, want 4", CategoryError)
	}
}

func TestStateEntityValues(t *testing.T) {
	// Verify explicit values for wire stability
	if StateEntitySession != 0 {
		t.Errorf("StateEntitySession = %d, want 0", StateEntitySession)
	}
	if StateEntityListener != 1 {
		t.Errorf("StateEntityListener = %d, want 1", StateEntityListener)
	}
}

func TestControlTypeValues(t *testing.T) {
	// Verify explicit values for wire stability
	if ControlPing != 0 {
		t.Errorf("ControlPing = %d, want 0", ControlPing)
	}
	if ControlPong != 1 {
		t.Errorf("ControlPong = %d, want 1", ControlPong)
	}
	if ControlClose != 2 {
		t.Errorf("ControlClose = %d, want 2", ControlClose)
	}
}
