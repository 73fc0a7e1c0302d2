package domain

// PredictionPoint pairs an observed target value with the model output.
type PredictionPoint struct {
	Name      string
	Actual    float64
	Predicted float64
}

// ModelEvaluation summarises a fitted regression on its holdout partition.
type ModelEvaluation struct {
	Target      string            // column being predicted
	Features    []string          // input columns, in model order
	TrainRows   int               // rows used for fitting
	HoldoutRows int               // rows withheld for evaluation
	R2          float64           // coefficient of determination on holdout
	MAE         float64           // mean absolute error on holdout
	Holdout     []PredictionPoint // holdout rows in partition order
}
