package service

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"

	"github.com/noah-isme/session-insights-api/internal/models"
)

const (
	logisticC                 = 1.0
	logisticIterations        = 1000
	logisticGradientThreshold = 1e-8
)

// fitScaler computes per-feature mean and population standard deviation.
// Constant features get a unit scale.
func fitScaler(rows [][]float64) models.Scaler {
	width := models.FeatureCount
	mean := make([]float64, width)
	scale := make([]float64, width)
	column := make([]float64, len(rows))
	for j := 0; j < width; j++ {
		for i, row := range rows {
			column[i] = row[j]
		}
		mean[j], scale[j] = stat.PopMeanStdDev(column, nil)
		if scale[j] == 0 || math.IsNaN(scale[j]) {
			scale[j] = 1
		}
	}
	return models.Scaler{Mean: mean, Scale: scale}
}

func transform(scaler models.Scaler, row []float64) []float64 {
	out := make([]float64, len(row))
	for j, v := range row {
		out[j] = (v - scaler.Mean[j]) / scaler.Scale[j]
	}
	return out
}

// fitLogistic finds the maximum likelihood weights under an L2 penalty of
// strength 1/C with L-BFGS. The bias is the last coordinate and is not
// penalised.
func fitLogistic(rows [][]float64, labels []float64) ([]float64, float64, error) {
	if len(rows) == 0 {
		return nil, 0, errors.New("logistic fit needs at least one row")
	}
	n := float64(len(rows))
	width := models.FeatureCount

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			weights, bias := x[:width], x[width]
			loss := 0.0
			for i, row := range rows {
				z := dot(weights, row) + bias
				loss += softplus(z) - labels[i]*z
			}
			return loss/n + floats.Dot(weights, weights)/(2*logisticC*n)
		},
		Grad: func(grad, x []float64) {
			weights, bias := x[:width], x[width]
			for j := range grad {
				grad[j] = 0
			}
			for i, row := range rows {
				residual := sigmoid(dot(weights, row)+bias) - labels[i]
				for j, v := range row {
					grad[j] += residual * v
				}
				grad[width] += residual
			}
			floats.Scale(1/n, grad)
			floats.AddScaled(grad[:width], 1/(logisticC*n), weights)
		},
	}

	settings := &optimize.Settings{
		GradientThreshold: logisticGradientThreshold,
		MajorIterations:   logisticIterations,
	}
	result, err := optimize.Minimize(problem, make([]float64, width+1), settings, &optimize.LBFGS{})
	if result == nil {
		return nil, 0, fmt.Errorf("logistic fit: %w", err)
	}
	// A stalled line search still leaves the best location found.
	for _, v := range result.X {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, 0, fmt.Errorf("logistic fit diverged (status %v): %w", result.Status, err)
		}
	}

	weights := make([]float64, width)
	copy(weights, result.X[:width])
	return weights, result.X[width], nil
}

func predictProbability(model *models.TrainedModel, features []float64) float64 {
	return sigmoid(dot(model.Weights, transform(model.Scaler, features)) + model.Bias)
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

// softplus is log(1+e^z) without overflow.
func softplus(z float64) float64 {
	if z > 0 {
		return z + math.Log1p(math.Exp(-z))
	}
	return math.Log1p(math.Exp(z))
}

func dot(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
