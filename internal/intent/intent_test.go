package intent

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		text string
		want Intent
	}{
		{"Confirmar", Confirm},
		{"sí, ahí estaré", Confirm},
		{"OK", Confirm},
		{"yes please", Confirm},
		{"Quiero CANCELAR mi cita", Cancel},
		{"no", Cancel},
		{"Nope.", None},
		{"¿Puedo reprogramar?", Reschedule},
		{"prefiero otro horario", Reschedule},
		{"necesito cambiar la hora", Reschedule},
		{"hola", None},
		{"", None},
		{"   ", None},
		// substrings inside other words do not count
		{"nosotros llegamos tarde", None},
		{"okay", None},
		// fillers are not confirmations
		{"Bueno, mejor cancelar la cita", Cancel},
		{"Vale, quiero cancelar", Cancel},
		{"confirmo", None},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.text))
		})
	}
}

func TestClassifyFirstMatchWins(t *testing.T) {
	// every set matches; confirm is checked first
	assert.Equal(t, Confirm, Classify("cancelar no, mejor confirmar, o reprogramar"))
	// reschedule outranks cancel
	assert.Equal(t, Reschedule, Classify("cancelar o reprogramar"))
	assert.Equal(t, Reschedule, Classify("no puedo, otro día"))
}

func TestTokenizeFoldsAccents(t *testing.T) {
	assert.Equal(t, []string{"si", "manana", "a", "las", "9"}, Tokenize("¡Sí! Mañana a las 9"))
}

func TestClassifyConcurrent(t *testing.T) {
	inputs := map[string]Intent{
		"Sí, confirmo":             Confirm,
		"¿Podemos reprogramar?":    Reschedule,
		"Quiero cancelar, gracias": Cancel,
		"Mañana no podré":          Cancel,
		"¿Qué día es?":             None,
	}

	var wg sync.WaitGroup
	for g := 0; g < 32; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				for text, want := range inputs {
					if got := Classify(text); got != want {
						t.Errorf("Classify(%q) = %q, want %q", text, got, want)
						return
					}
				}
			}
		}()
	}
	wg.Wait()
}
