package router

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractIntent(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    Intent
	}{
		{
			name:    "marker and area",
			message: "chest pain, I am at Clifton",
			want:    Intent{Address: "Clifton", Explicit: true},
		},
		{
			name:    "marker stops at sentence end",
			message: "My address is House 12, Block 5, PECHS. Please hurry",
			want:    Intent{Address: "House 12, Block 5, PECHS", Explicit: true},
		},
		{
			name:    "colon marker",
			message: "location: Malir Cantt",
			want:    Intent{Address: "Malir Cantt", Explicit: true},
		},
		{
			name:    "bare area name",
			message: "fire with people trapped, Gulshan-e-Iqbal",
			want:    Intent{Address: "Gulshan-e-Iqbal"},
		},
		{
			name:    "local phone",
			message: "0300-1234567",
			want:    Intent{Phone: "0300-1234567"},
		},
		{
			name:    "international phone",
			message: "call me on +92 300 1234567",
			want:    Intent{Phone: "+92 300 1234567", CountryCode: "+92"},
		},
		{
			name:    "phone and marker",
			message: "I'm at Korangi, 03001234567",
			want:    Intent{Phone: "03001234567", Address: "Korangi", Explicit: true},
		},
		{
			name:    "no location from shape",
			message: "help now",
			want:    Intent{},
		},
		{
			name:    "marker inside a word",
			message: "the victim at the door is bleeding",
			want:    Intent{},
		},
		{
			name:    "attack is not a marker",
			message: "i am attacked",
			want:    Intent{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractIntent(tt.message))
		})
	}
}

func TestIntentEmpty(t *testing.T) {
	assert.True(t, Intent{}.Empty())
	assert.False(t, Intent{Phone: "03001234567"}.Empty())
}

func TestValidPhone(t *testing.T) {
	assert.True(t, ValidPhone("0300-1234567"))
	assert.True(t, ValidPhone(" +92 300 1234567 "))
	assert.False(t, ValidPhone("call 0300-1234567"))
	assert.False(t, ValidPhone("12345"))
}

func TestKeyedMutex_FIFO(t *testing.T) {
	k := newKeyedMutex()
	unlock := k.Lock("s1")

	order := make(chan int, 3)
	for i := 0; i < 3; i++ {
		i := i
		go func() {
			release := k.Lock("s1")
			order <- i
			release()
		}()
		require.Eventually(t, func() bool {
			k.mu.Lock()
			defer k.mu.Unlock()
			return len(k.queues["s1"]) == i+2
		}, time.Second, time.Millisecond)
	}

	// Other keys are not blocked.
	k.Lock("s2")()

	unlock()
	for want := 0; want < 3; want++ {
		assert.Equal(t, want, <-order)
	}

	assert.Eventually(t, func() bool {
		k.mu.Lock()
		defer k.mu.Unlock()
		return len(k.queues) == 0
	}, time.Second, time.Millisecond)
}
