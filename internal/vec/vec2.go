package vec

import "math"

// Vec2 представляет целочисленный 2D вектор (координаты или смещение в чанках)
type Vec2 struct {
	X, Y int
}

// Add возвращает сумму векторов
func (v Vec2) Add(other Vec2) Vec2 {
	return Vec2{X: v.X + other.X, Y: v.Y + other.Y}
}

// Scale умножает вектор на скаляр
func (v Vec2) Scale(k int) Vec2 {
	return Vec2{X: v.X * k, Y: v.Y * k}
}

// IsZero сообщает, является ли вектор нулевым
func (v Vec2) IsZero() bool {
	return v.X == 0 && v.Y == 0
}

// Sign нормализует вектор до направления с компонентами из {-1, 0, 1}
func (v Vec2) Sign() Vec2 {
	return Vec2{X: sign(v.X), Y: sign(v.Y)}
}

// Chebyshev возвращает расстояние Чебышёва (квадратный радиус прогрузки)
func (v Vec2) Chebyshev(other Vec2) int {
	dx := v.X - other.X
	if dx < 0 {
		dx = -dx
	}
	dy := v.Y - other.Y
	if dy < 0 {
		dy = -dy
	}
	if dx > dy {
		return dx
	}
	return dy
}

// DistanceTo вычисляет евклидово расстояние до другой точки
func (v Vec2) DistanceTo(other Vec2) float64 {
	dx := float64(v.X - other.X)
	dy := float64(v.Y - other.Y)
	return math.Sqrt(dx*dx + dy*dy)
}

func sign(n int) int {
	switch {
	case n > 0:
		return 1
	case n < 0:
		return -1
	default:
		return 0
	}
}
