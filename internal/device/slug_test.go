package device

import "testing"

func TestGenerateSlug(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Living Room Sensor", "living_room_sensor"},
		{"Lumière Entrée", "lumiere_entree"},
		{"L'escalier", "lescalier"},
		{"  --Volet / Salon--  ", "volet_salon"},
		{"Température ext. (°C)", "temperature_ext_c"},
		{"***", "item"},
		{"", "item"},
		{"RFID Keypad", "rfid_keypad"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := GenerateSlug(tt.in); got != tt.want {
				t.Errorf("GenerateSlug(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestJoinSlug(t *testing.T) {
	if got := JoinSlug("salon", "", "temperature"); got != "salon_temperature" {
		t.Errorf("JoinSlug() = %q, want salon_temperature", got)
	}
}
