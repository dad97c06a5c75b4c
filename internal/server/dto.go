package server

// createLimitRequest is the POST /prices/set-limit body. Dollar is a pointer
// so an explicit zero threshold passes the required check.
type createLimitRequest struct {
	Dollar *float64 `json:"dollar" binding:"required,gte=0"`
	Chain  string   `json:"chain" binding:"required"`
	Email  string   `json:"email" binding:"required,email"`
}

// updateLimitRequest is the PATCH /prices/update-limit/:id body. All fields
// are optional; absent fields keep their stored value.
type updateLimitRequest struct {
	Dollar *float64 `json:"dollar" binding:"omitempty,gte=0"`
	Chain  *string  `json:"chain" binding:"omitempty,min=1"`
	Email  *string  `json:"email" binding:"omitempty,email"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type deleteResponse struct {
	Success bool `json:"success"`
}
