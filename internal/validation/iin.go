// Package validation содержит функции валидации входных данных.
package validation

import "unicode"

// IsValidIIN проверяет корректность ИИН: 12 цифр и контрольный разряд.
func IsValidIIN(iin string) bool {
	if len(iin) != 12 {
		return false
	}

	digits := make([]int, 12)
	for i, ch := range iin {
		if !unicode.IsDigit(ch) {
			return false
		}
		digits[i] = int(ch - '0')
	}

	sum := 0
	for i := 0; i < 11; i++ {
		sum += digits[i] * (i + 1)
	}

	control := sum % 11
	if control == 10 {
		weights := []int{3, 4, 5, 6, 7, 8, 9, 10, 11, 1, 2}
		sum = 0
		for i := 0; i < 11; i++ {
			sum += digits[i] * weights[i]
		}
		control = sum % 11
	}
	if control == 10 {
		return false
	}

	return control == digits[11]
}
